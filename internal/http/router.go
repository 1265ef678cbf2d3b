package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterWorkflowRoutes 注册工作流 API 路由
func (r *Router) RegisterWorkflowRoutes(h *WorkflowHandler) {
	// 创建与列表
	r.Handle("/ops/api/v1/rooms", methodOnly(http.MethodPost, h.CreateRoom))
	r.Handle("/ops/api/v1/requests", methodOnly(http.MethodPost, h.CreateRequest))
	r.Handle("/ops/api/v1/assets", methodOnly(http.MethodPost, h.CreateAsset))
	r.Handle("/ops/api/v1/entities", methodOnly(http.MethodGet, h.ListEntities))

	// 实时看板
	r.Handle("/ops/api/v1/live/board", methodOnly(http.MethodGet, h.LiveBoard))

	// 资产操作：/ops/api/v1/assets/{id}/retire | transfer
	r.Handle("/ops/api/v1/assets/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, action, ok := splitIDAction(req.URL.Path, "/ops/api/v1/assets/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch action {
		case "retire":
			h.Retire(w, req, id)
		case "transfer":
			h.Transfer(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// 实体操作与读取：/ops/api/v1/entities/{id}[/...]
	r.Handle("/ops/api/v1/entities/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/ops/api/v1/entities/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		parts := strings.Split(rest, "/")
		id := parts[0]

		switch {
		case len(parts) == 1:
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.GetEntity(w, req, id)
		case len(parts) == 2 && parts[1] == "transition":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.Transition(w, req, id)
		case len(parts) == 2 && parts[1] == "maintenance":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.SendToMaintenance(w, req, id)
		case len(parts) == 3 && parts[1] == "maintenance" && parts[2] == "complete":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.CompleteMaintenance(w, req, id)
		case len(parts) == 2 && parts[1] == "history":
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.ListHistory(w, req, id)
		case len(parts) == 2 && parts[1] == "legal-transitions":
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.LegalTransitions(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// splitIDAction 拆分 "{id}/{action}" 形式的路径
func splitIDAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
