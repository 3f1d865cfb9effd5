package webcache

// OfflineShellPath is the precached document preferred as the offline
// fallback for page requests.
const OfflineShellPath = "/offline"

// offlineHTML is the generated fallback served when neither network nor any
// cache can satisfy a page request.
const offlineHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center;
       justify-content: center; min-height: 100vh; margin: 0; }
main { text-align: center; padding: 2rem; }
button { padding: 0.5rem 1.5rem; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>This page is not available without a connection and has not been cached yet.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`
