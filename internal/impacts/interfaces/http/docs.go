package http

import (
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIDocument []byte

var (
	openAPIOnce sync.Once
	openAPISpec any
	openAPIErr  error
)

const docsPage = `<!DOCTYPE html>
<html>
<head>
<title>Blitzortung proxy - API</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.ui = SwaggerUIBundle({url: "/openapi.json", dom_id: "#swagger-ui"});
</script>
</body>
</html>
`

func (h *Handler) handleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsPage))
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	spec, err := loadOpenAPI()
	if err != nil {
		h.logger.Printf("openapi document error: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func loadOpenAPI() (any, error) {
	openAPIOnce.Do(func() {
		var doc any
		if err := yaml.Unmarshal(openAPIDocument, &doc); err != nil {
			openAPIErr = fmt.Errorf("decode openapi: %w", err)
			return
		}
		openAPISpec = jsonCompatible(doc)
	})
	return openAPISpec, openAPIErr
}

// jsonCompatible rewrites non-string YAML map keys so the document encodes as JSON.
func jsonCompatible(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, item := range typed {
			typed[key] = jsonCompatible(item)
		}
		return typed
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = jsonCompatible(item)
		}
		return out
	case []any:
		for i, item := range typed {
			typed[i] = jsonCompatible(item)
		}
		return typed
	default:
		return value
	}
}
