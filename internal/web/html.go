package web

import "html/template"

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Smart Trolley Checkout</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/static/checkout.css">
    <style>
        body { font-family: sans-serif; margin: 0; background: #f3f4f6; }
        .app { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #fff; border-radius: 8px; padding: 12px; }
        #stream { width: 100%; background: #000; }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 4px; border-bottom: 1px solid #e5e7eb; text-align: left; }
        .total { font-size: 1.4em; font-weight: bold; margin-top: 8px; }
    </style>
</head>
<body>
<div class="app">
    <div class="panel">
        <h2>Live Feed</h2>
        <img id="stream" alt="Live checkout camera">
        <div>
            <button id="btn-start">Start camera</button>
            <button id="btn-stop">Stop camera</button>
            <span id="camera-status"></span>
        </div>
    </div>
    <div class="panel">
        <h2>Cart <span id="item-count">(0)</span></h2>
        <input id="search" placeholder="Search products">
        <div id="search-results"></div>
        <table>
            <thead><tr><th>Product</th><th>Qty</th><th>Price</th><th></th></tr></thead>
            <tbody id="cart-body"></tbody>
        </table>
        <div class="total">Total: Rs <span id="total">0</span></div>
        <button id="btn-clear">Clear</button>
        <button id="btn-checkout">Checkout</button>
    </div>
</div>
<script>
const post = (url, body) => fetch(url, {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(body || {}),
}).then(r => r.json());

function renderCart(data) {
    const body = document.getElementById('cart-body');
    body.innerHTML = '';
    for (const item of data.cart) {
        const row = document.createElement('tr');
        row.innerHTML = '<td></td><td></td><td></td><td>' +
            '<button data-a="decrement">-</button><button data-a="increment">+</button>' +
            '<button data-a="remove">x</button></td>';
        row.children[0].textContent = item.name;
        row.children[1].textContent = item.quantity;
        row.children[2].textContent = (item.price * item.quantity).toFixed(2);
        row.querySelectorAll('button').forEach(b => b.onclick = () =>
            post('/cart/update/' + item.id, {action: b.dataset.a}).then(refreshCart));
        body.appendChild(row);
    }
    document.getElementById('total').textContent = data.total.toFixed(2);
    document.getElementById('item-count').textContent = '(' + data.item_count + ')';
}

function refreshCart() {
    return fetch('/cart').then(r => r.json()).then(renderCart);
}

function pollPrompt() {
    fetch('/prompt').then(r => r.json()).then(p => {
        if (p.action === 'add') {
            refreshCart();
        } else if (p.action === 'prompt') {
            if (confirm(p.item.name + ' is already in the cart (quantity ' + p.item.quantity + '). Add another?')) {
                post('/cart/update/' + p.item.id, {action: 'increment'}).then(refreshCart);
            }
        }
    }).finally(() => setTimeout(pollPrompt, 1000));
}

document.getElementById('btn-start').onclick = () => post('/camera/start').then(r => {
    document.getElementById('camera-status').textContent = r.success ? 'Camera on' : r.error;
    if (r.success) document.getElementById('stream').src = '/video_feed?t=' + Date.now();
});
document.getElementById('btn-stop').onclick = () => post('/camera/stop').then(() => {
    document.getElementById('camera-status').textContent = 'Camera off';
});
document.getElementById('btn-clear').onclick = () => post('/cart/clear').then(refreshCart);
document.getElementById('btn-checkout').onclick = () => post('/checkout').then(r => {
    alert(r.message);
    refreshCart();
});
document.getElementById('search').oninput = (e) => {
    fetch('/search?query=' + encodeURIComponent(e.target.value)).then(r => r.json()).then(list => {
        const box = document.getElementById('search-results');
        box.innerHTML = '';
        if (e.target.value && list.length === 0) box.textContent = 'No products found';
        for (const p of list) {
            const b = document.createElement('button');
            b.textContent = p.name + ' (Rs ' + p.price + ')';
            b.onclick = () => post('/cart/add', {name: p.name}).then(refreshCart);
            box.appendChild(b);
        }
    });
};

document.getElementById('stream').src = '/video_feed';
refreshCart();
pollPrompt();
</script>
</body>
</html>
`

var checkoutTemplate = template.Must(template.New("checkout").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`<!DOCTYPE html>
<html>
<head><title>Checkout</title></head>
<body>
<h1>Checkout</h1>
<table>
    <tr><th>Product</th><th>Qty</th><th>Subtotal</th></tr>
    {{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{money .Subtotal}}</td></tr>
    {{else}}<tr><td colspan="3">Cart is empty</td></tr>
    {{end}}
</table>
<p>Total: Rs {{money .Total}}</p>
</body>
</html>
`))
