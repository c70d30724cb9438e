package controller

import (
	"encoding/json"
	"net/http"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := c.App.Scanner.Tip(ctx); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "daemon connection error"})
		return
	}

	if c.App.Redis != nil {
		if err := c.App.Redis.Health(ctx); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
