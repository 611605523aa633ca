package obs

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const readyTimeout = 2 * time.Second

// Pinger is implemented by every store driver.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves /livez and /readyz. Readiness requires the store and every entry in
// Checks to answer a ping within two seconds.
type HealthHandlers struct {
	Store  Pinger
	Checks map[string]Pinger
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	var failing []string
	for name, p := range h.targets() {
		if err := p.Ping(ctx); err != nil {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h HealthHandlers) targets() map[string]Pinger {
	out := make(map[string]Pinger, len(h.Checks)+1)
	for name, p := range h.Checks {
		if p != nil {
			out[name] = p
		}
	}
	if h.Store != nil {
		out["store"] = h.Store
	}
	return out
}
