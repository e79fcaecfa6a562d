package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/config"
)

// ConfigurationResponse is the runtime configuration exposed by the API.
// Credentials (redis password, postgres DSN, honeybadger key) are never included.
type ConfigurationResponse struct {
	StoreDriver        string `json:"storeDriver"`
	Collection         string `json:"collection"`
	SyncMode           string `json:"syncMode"`
	RefreshIntervalSec int    `json:"refreshIntervalSec"`
	RequestTimeoutMs   int64  `json:"requestTimeoutMs"`
	MetricsEnabled     bool   `json:"metricsEnabled"`
}

// ConfigurationController handles configuration-related API endpoints.
type ConfigurationController struct {
	config *config.Config
}

func NewConfigurationController(cfg *config.Config) *ConfigurationController {
	return &ConfigurationController{
		config: cfg,
	}
}

// GetConfiguration returns the sanitized application configuration.
func (cc *ConfigurationController) GetConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigurationResponse{
		StoreDriver:        cc.config.Store.Driver,
		Collection:         cc.config.Store.Collection,
		SyncMode:           cc.config.Sync.Mode,
		RefreshIntervalSec: int(cc.config.Sync.RefreshInterval.Seconds()),
		RequestTimeoutMs:   cc.config.Server.RequestTimeout.Milliseconds(),
		MetricsEnabled:     cc.config.Misc.MetricsEnabled,
	})
}
