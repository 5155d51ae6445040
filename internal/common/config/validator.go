package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
)

// Location represents a configuration location
type Location struct {
	Field string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message   string
	Locations []Location
	Err       error
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteString("\n\n")
	for _, loc := range e.Locations {
		sb.WriteString("--> ")
		sb.WriteString(loc.Field)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate validates the server configuration and joins every problem found
func (c *DalleSSEConfig) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("invalid port %d", c.Server.Port),
			Locations: []Location{{Field: "server.port"}},
		})
	}
	if !strings.HasPrefix(c.Server.SSEPath, "/") || !strings.HasPrefix(c.Server.MessagePath, "/") {
		errs = append(errs, &ValidationError{
			Message:   "paths must start with /",
			Locations: []Location{{Field: "server.sse_path"}, {Field: "server.message_path"}},
		})
	}
	if strings.TrimSuffix(c.Server.SSEPath, "/") == strings.TrimSuffix(c.Server.MessagePath, "/") {
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("duplicate path %q", c.Server.SSEPath),
			Locations: []Location{{Field: "server.sse_path"}, {Field: "server.message_path"}},
			Err:       cnst.ErrDuplicatePath,
		})
	}

	switch c.Broker.Type {
	case cnst.BrokerTypeRedis:
		switch c.Broker.ClusterType {
		case cnst.RedisClusterTypeSingle, cnst.RedisClusterTypeSentinel, cnst.RedisClusterTypeCluster:
		default:
			errs = append(errs, &ValidationError{
				Message:   fmt.Sprintf("unknown redis cluster type %q", c.Broker.ClusterType),
				Locations: []Location{{Field: "broker.cluster_type"}},
			})
		}
		if c.Broker.ClusterType == cnst.RedisClusterTypeSentinel && c.Broker.MasterName == "" {
			errs = append(errs, &ValidationError{
				Message:   "sentinel requires a master name",
				Locations: []Location{{Field: "broker.master_name"}},
			})
		}
	case cnst.BrokerTypeMemory:
	default:
		errs = append(errs, &ValidationError{
			Message:   fmt.Sprintf("unknown broker type %q", c.Broker.Type),
			Locations: []Location{{Field: "broker.type"}},
			Err:       cnst.ErrUnknownBrokerType,
		})
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, &ValidationError{
			Message:   "OPENAI_API_KEY environment variable is required",
			Locations: []Location{{Field: "openai.api_key"}},
			Err:       cnst.ErrMissingAPIKey,
		})
	}

	img := c.Image
	if img.StartQuality < 1 || img.StartQuality > 100 ||
		img.MinQuality < 1 || img.MinQuality > img.StartQuality ||
		img.QualityStep < 1 || img.TargetBytes < 1 {
		errs = append(errs, &ValidationError{
			Message:   "image quality settings out of range",
			Locations: []Location{{Field: "image"}},
		})
	}

	return errors.Join(errs...)
}
