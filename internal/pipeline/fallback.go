package pipeline

import (
	"fmt"
	"strings"

	"github.com/forgeview/orchestrator/internal/genai"
	"github.com/forgeview/orchestrator/pkg/types"
)

// fallbackFiles synthesizes the deterministic template file set used when
// the generation collaborator fails or returns nothing. Identical inputs
// always produce the identical set, keyed by filename.
func fallbackFiles(t types.TaskType, task types.TaskSpec, appName string) []genai.GeneratedFileContent {
	title := strings.TrimSpace(appName)
	if title == "" {
		title = "Generated App"
	}
	desc := strings.TrimSpace(task.Description)
	if desc == "" {
		desc = "your application"
	}

	paths := plannedFiles(t)
	out := make([]genai.GeneratedFileContent, 0, len(paths))
	for _, p := range paths {
		out = append(out, genai.GeneratedFileContent{
			Path:        p,
			Content:     fallbackTemplate(p, t, title, desc),
			Description: "local template",
		})
	}
	return out
}

func fallbackTemplate(path string, t types.TaskType, title, desc string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}

	switch base {
	case "package.json":
		if t == types.TaskTypeBackend {
			return fmt.Sprintf(`{
  "name": "%s-api",
  "private": true,
  "version": "0.0.1",
  "scripts": {
    "dev": "node server.js",
    "start": "node server.js"
  },
  "dependencies": {
    "express": "^4.19.2"
  }
}
`, templateSlug(title))
		}
		return fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "version": "0.0.1",
  "type": "module",
  "scripts": {
    "dev": "vite",
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
`, templateSlug(title))

	case "App.jsx":
		return fmt.Sprintf(`import './App.css'

function App() {
  return (
    <div className="app">
      <header className="app-header">
        <h1>%s</h1>
      </header>
      <main className="app-main">
        <p>This is a starter interface for %s.</p>
        <p>Content generation was unavailable, so a local template was used instead.</p>
      </main>
    </div>
  )
}

export default App
`, title, desc)

	case "App.css":
		return `.app {
  min-height: 100vh;
  font-family: system-ui, sans-serif;
  color: #1a1a2e;
  background: #f5f6fa;
}

.app-header {
  padding: 24px;
  background: #312e81;
  color: #eef2ff;
}

.app-header h1 {
  margin: 0;
}

.app-main {
  padding: 24px;
  max-width: 640px;
}
`

	case "main.jsx":
		return `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App.jsx'

ReactDOM.createRoot(document.getElementById('root')).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
)
`

	case "server.js":
		return fmt.Sprintf(`const express = require('express');
const api = require('./routes/api');

const app = express();
app.use(express.json());
app.use('/api', api);

app.get('/healthz', (_req, res) => {
  res.json({ status: 'ok', service: %q });
});

const port = process.env.PORT || 3001;
app.listen(port, () => {
  console.log('api listening on ' + port);
});
`, templateSlug(title))

	case "api.js":
		return fmt.Sprintf(`const { Router } = require('express');

const router = Router();

router.get('/status', (_req, res) => {
  res.json({ ready: true, description: %q });
});

module.exports = router;
`, desc)

	default:
		return fmt.Sprintf("// %s\n// Placeholder for %s.\n", base, desc)
	}
}

func templateSlug(s string) string {
	slug := strings.ToLower(strings.TrimSpace(s))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
