package sandbox

import (
	"fmt"
	"strings"
)

// placeholderScaffold is the file set seeded into an empty table when
// static mode starts, so the synthesizer always has something to render.
// It deliberately contains no index.html: a complete document would keep
// shadowing real component files delivered later.
func placeholderScaffold(appName string) map[string]string {
	title := strings.TrimSpace(appName)
	if title == "" {
		title = "ForgeView App"
	}
	return map[string]string{
		"package.json": fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "version": "0.0.0"
}
`, manifestSlug(title)),
		"src/App.jsx": fmt.Sprintf(`import './App.css'

function App() {
  return (
    <div className="placeholder">
      <h1>%s</h1>
      <p>The workspace is empty. Files will appear here as agents deliver them.</p>
    </div>
  )
}

export default App
`, title),
		"src/App.css": `.placeholder {
  min-height: 100vh;
  display: flex;
  flex-direction: column;
  align-items: center;
  justify-content: center;
  font-family: system-ui, sans-serif;
  color: #475569;
  background: #f8fafc;
}
`,
	}
}

// executionScaffold is the minimal project the runtime mount starts from:
// the placeholder component set plus the host page, client entry and a
// dev-server manifest. Delivered files overlay it, so a producer-supplied
// manifest or component replaces the scaffold's.
func executionScaffold(appName string) map[string]string {
	title := strings.TrimSpace(appName)
	if title == "" {
		title = "ForgeView App"
	}

	files := placeholderScaffold(appName)
	files["package.json"] = fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "version": "0.1.0",
  "type": "module",
  "scripts": {
    "dev": "vite --host",
    "build": "vite build"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "vite": "^5.4.0"
  }
}
`, manifestSlug(title))
	files["index.html"] = fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>%s</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`, title)
	files["src/main.jsx"] = `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App.jsx'

ReactDOM.createRoot(document.getElementById('root')).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
)
`
	files["vite.config.js"] = `import { defineConfig } from 'vite'
import react from '@vitejs/plugin-react'

export default defineConfig({
  plugins: [react()],
  server: {
    host: true,
    port: Number(process.env.PORT) || 5173,
  },
})
`
	return files
}

// manifestSlug lowercases and hyphenates a display name for package
// manifests.
func manifestSlug(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "forgeview-app"
	}
	return out
}
