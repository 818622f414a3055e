package server

// indexHTML is the single-page crop UI. Rectangles are drawn on the
// preview canvas and stored in full-resolution pixel coordinates.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>hyperspec crop</title>
<style>
  body { font-family: sans-serif; margin: 0; display: flex; height: 100vh; }
  #sidebar { width: 260px; border-right: 1px solid #ccc; overflow-y: auto; padding: 10px; }
  #sidebar h1 { font-size: 16px; }
  #sidebar li { cursor: pointer; padding: 4px; list-style: none; }
  #sidebar li.active { background: #d0e4ff; }
  #sidebar li.done::after { content: " \2713"; color: green; }
  #main { flex: 1; padding: 10px; }
  #status { color: #555; font-size: 13px; min-height: 18px; }
  canvas { border: 1px solid #999; cursor: crosshair; }
</style>
</head>
<body>
<div id="sidebar">
  <h1>Captures</h1>
  <ul id="captures"></ul>
</div>
<div id="main">
  <div id="status">select a capture</div>
  <canvas id="canvas" width="0" height="0"></canvas>
</div>
<script>
let captures = [];
let current = null;
let img = new Image();
let scale = 1;
let drag = null;
let rect = null;

const canvas = document.getElementById('canvas');
const ctx = canvas.getContext('2d');
const status = document.getElementById('status');

async function loadCaptures() {
  const res = await fetch('/api/captures');
  captures = await res.json();
  const ul = document.getElementById('captures');
  ul.innerHTML = '';
  for (const c of captures) {
    const li = document.createElement('li');
    li.textContent = c.id;
    li.className = (c.has_bounds ? 'done' : '') + (current && current.id === c.id ? ' active' : '');
    li.onclick = () => select(c.id);
    ul.appendChild(li);
  }
}

async function select(id) {
  current = captures.find(c => c.id === id);
  rect = null;
  status.textContent = 'loading ' + id + '...';
  img = new Image();
  img.onload = async () => {
    canvas.width = img.width;
    canvas.height = img.height;
    scale = current.samples / img.width;
    const res = await fetch('/api/bounds/' + id);
    if (res.ok) rect = await res.json();
    draw();
    status.textContent = id + ' (' + current.samples + 'x' + current.lines + ')';
  };
  img.src = '/api/preview/' + id;
  loadCaptures();
}

function draw() {
  ctx.drawImage(img, 0, 0);
  if (rect) {
    ctx.strokeStyle = 'red';
    ctx.lineWidth = 2;
    ctx.strokeRect(rect.x / scale, rect.y / scale, rect.width / scale, rect.height / scale);
  }
}

canvas.onmousedown = e => {
  drag = { x: e.offsetX, y: e.offsetY };
};
canvas.onmousemove = e => {
  if (!drag) return;
  rect = toFullRes(drag.x, drag.y, e.offsetX, e.offsetY);
  draw();
};
canvas.onmouseup = async e => {
  if (!drag) return;
  rect = toFullRes(drag.x, drag.y, e.offsetX, e.offsetY);
  drag = null;
  draw();
  if (rect.width < 1 || rect.height < 1) return;
  const res = await fetch('/api/bounds/' + current.id, {
    method: 'PUT',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(rect)
  });
  status.textContent = res.ok ? current.id + ': bounds saved' : 'save failed: ' + await res.text();
  loadCaptures();
};

function toFullRes(x0, y0, x1, y1) {
  const x = Math.max(0, Math.round(Math.min(x0, x1) * scale));
  const y = Math.max(0, Math.round(Math.min(y0, y1) * scale));
  let w = Math.round(Math.abs(x1 - x0) * scale);
  let h = Math.round(Math.abs(y1 - y0) * scale);
  if (current) {
    w = Math.min(w, current.samples - x);
    h = Math.min(h, current.lines - y);
  }
  return { x: x, y: y, width: w, height: h };
}

const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = () => loadCaptures();

loadCaptures();
</script>
</body>
</html>
`
