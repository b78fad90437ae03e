package web

// Status page listing mirrored orders as they are journaled.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Mirrorbot</title>
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-soft:#9c9c9c; --panel:#f6f6f6; }
    * { box-sizing:border-box; }
    body { margin:0; padding:2rem; background:var(--bg); color:var(--ink); font-family:'Space Mono','JetBrains Mono',monospace; }
    #app { max-width:1200px; margin:0 auto; background:var(--panel); border:3px solid var(--ink); padding:2rem; box-shadow:12px 12px 0 rgba(0,0,0,.15); }
    h1 { margin:0 0 1rem; font-size:1.2rem; letter-spacing:.1em; }
    .meta { color:var(--ink-soft); margin-bottom:1.5rem; word-break:break-all; }
    table { width:100%; border-collapse:collapse; font-size:.85rem; }
    th, td { text-align:left; padding:.4rem .6rem; border-bottom:1px solid rgba(0,0,0,.1); }
    th { text-transform:uppercase; font-size:.7rem; color:var(--ink-soft); }
    .done { color:#1f8a3b; }
    .failed { color:#c0392b; }
    .pending { color:#b7950b; }
  </style>
</head>
<body>
  <div id="app">
    <h1>MIRRORBOT</h1>
    <div class="meta" id="meta">loading...</div>
    <table>
      <thead>
        <tr><th>time</th><th>action</th><th>selling</th><th>buying</th><th>amount</th><th>price</th><th>status</th><th>tx</th></tr>
      </thead>
      <tbody id="orders"></tbody>
    </table>
  </div>
  <script>
    const rows = new Map();
    const body = document.getElementById('orders');

    fetch('/healthz').then(r => r.json()).then(h => {
      document.getElementById('meta').textContent =
        h.network + ' | source ' + h.source + ' | target ' + h.target + ' | ' + h.state + (h.dry_run ? ' | dry run' : '');
    }).catch(() => {});

    function render(o) {
      let tr = rows.get(o.id);
      if (!tr) {
        tr = document.createElement('tr');
        rows.set(o.id, tr);
        body.prepend(tr);
      }
      const tx = o.tx_hash ? o.tx_hash.slice(0, 12) : (o.error || '');
      tr.innerHTML = '<td>' + new Date(o.time).toLocaleTimeString() + '</td>' +
        '<td>' + o.action + '</td><td>' + o.selling + '</td><td>' + o.buying + '</td>' +
        '<td>' + o.amount + '</td><td>' + o.price + '</td>' +
        '<td class="' + o.status + '">' + o.status + '</td><td>' + tx + '</td>';
    }

    const es = new EventSource('/orders/stream');
    es.addEventListener('order', e => render(JSON.parse(e.data)));
  </script>
</body>
</html>
`
