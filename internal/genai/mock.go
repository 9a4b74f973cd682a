package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeview/orchestrator/pkg/types"
)

// MockClient produces deterministic project files so the service is fully
// functional without an API key. Output depends only on the request.
type MockClient struct{}

func (m *MockClient) GenerateFiles(_ context.Context, req GenerationRequest) (*GenerationResult, error) {
	title := strings.TrimSpace(req.AppName)
	if title == "" {
		title = "Generated App"
	}
	desc := strings.TrimSpace(req.TaskDescription)
	if desc == "" {
		desc = "a small demo application"
	}

	if req.ProducerType == types.TaskTypeBackend {
		return mockBackendResult(title, desc), nil
	}
	return mockUIResult(title, desc), nil
}

func mockUIResult(title, desc string) *GenerationResult {
	slug := slugify(title)
	return &GenerationResult{
		Files: []GeneratedFileContent{
			{
				Path:        "package.json",
				Description: "Project manifest with the dev server scripts",
				Content: fmt.Sprintf(`{
  "name": %q,
  "private": true,
  "version": "0.1.0",
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "preview": "vite preview"
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
`, slug),
			},
			{
				Path:        "src/App.jsx",
				Description: "Root application component",
				Content: fmt.Sprintf(`import { useState } from 'react'
import './App.css'

function App() {
  const [count, setCount] = useState(0)

  return (
    <div className="app">
      <header className="app-header">
        <h1>%s</h1>
        <p className="tagline">%s</p>
      </header>
      <main className="app-main">
        <section className="card">
          <h2>Getting started</h2>
          <p>This interface was generated from your task description.</p>
          <button className="primary" onClick={() => setCount(count + 1)}>
            Clicked {count} times
          </button>
        </section>
      </main>
      <footer className="app-footer">
        <p>Built with React</p>
      </footer>
    </div>
  )
}

export default App
`, title, desc),
			},
			{
				Path:        "src/App.css",
				Description: "Application styles",
				Content: `.app {
  min-height: 100vh;
  display: flex;
  flex-direction: column;
  font-family: system-ui, sans-serif;
  color: #1a1a2e;
  background: #f5f6fa;
}

.app-header {
  padding: 32px 24px;
  background: #312e81;
  color: #eef2ff;
}

.app-header h1 {
  margin: 0 0 8px;
}

.tagline {
  margin: 0;
  opacity: 0.85;
}

.app-main {
  flex: 1;
  padding: 24px;
}

.card {
  max-width: 520px;
  background: #ffffff;
  border-radius: 8px;
  padding: 24px;
  box-shadow: 0 1px 4px rgba(0, 0, 0, 0.08);
}

.primary {
  border: none;
  border-radius: 6px;
  padding: 10px 18px;
  background: #4f46e5;
  color: #ffffff;
  cursor: pointer;
}

.app-footer {
  padding: 16px 24px;
  font-size: 13px;
  color: #6b7280;
}
`,
			},
			{
				Path:        "src/main.jsx",
				Description: "Client entry point",
				Content: `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App.jsx'

ReactDOM.createRoot(document.getElementById('root')).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
)
`,
			},
		},
		Reasoning:   fmt.Sprintf("Generated a React interface for %q: a header, a primary interaction card, and base styling.", desc),
		Suggestions: []string{"Add routing once more than one view exists", "Extract the card into its own component"},
	}
}

func mockBackendResult(title, desc string) *GenerationResult {
	slug := slugify(title)
	return &GenerationResult{
		Files: []GeneratedFileContent{
			{
				Path:        "package.json",
				Description: "Server manifest",
				Content: fmt.Sprintf(`{
  "name": "%s-api",
  "private": true,
  "version": "0.1.0",
  "scripts": {
    "dev": "node server.js",
    "start": "node server.js"
  },
  "dependencies": {
    "express": "^4.19.2",
    "cors": "^2.8.5"
  }
}
`, slug),
			},
			{
				Path:        "server.js",
				Description: "HTTP server wiring",
				Content: fmt.Sprintf(`const express = require('express');
const cors = require('cors');
const api = require('./routes/api');

const app = express();
app.use(cors());
app.use(express.json());
app.use('/api', api);

app.get('/healthz', (_req, res) => {
  res.json({ status: 'ok', service: %q });
});

const port = process.env.PORT || 3001;
app.listen(port, () => {
  console.log('api listening on ' + port);
});
`, slug),
			},
			{
				Path:        "routes/api.js",
				Description: "REST endpoints",
				Content: fmt.Sprintf(`const { Router } = require('express');

const router = Router();

// In-memory store standing in for a real database.
const items = [
  { id: 1, title: 'First item', done: false },
  { id: 2, title: 'Second item', done: true },
];
let nextId = 3;

router.get('/items', (_req, res) => {
  res.json(items);
});

router.post('/items', (req, res) => {
  const item = { id: nextId++, title: req.body.title || 'Untitled', done: false };
  items.push(item);
  res.status(201).json(item);
});

router.get('/about', (_req, res) => {
  res.json({ description: %q });
});

module.exports = router;
`, desc),
			},
		},
		Reasoning:   fmt.Sprintf("Generated an Express API for %q: an item collection with list and create endpoints plus a health check.", desc),
		Suggestions: []string{"Swap the in-memory store for persistent storage", "Add request validation on POST bodies"},
	}
}

// slugify lowercases and hyphenates a display name for use in manifests.
func slugify(s string) string {
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
	return strings.TrimRight(b.String(), "-")
}
