package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	if err := validateRecognizerConfig(cfg.Recognizer); err != nil {
		return err
	}

	if cfg.Chunking.MaxLen <= 0 {
		return errors.New("chunking.max_len must be positive")
	}

	if cfg.Converter.URL != "" {
		if err := validateHTTPURL("converter.url", cfg.Converter.URL); err != nil {
			return err
		}
	}

	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateRecognizerConfig(r RecognizerConfig) error {
	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "none":
		return nil
	case "http":
		if strings.TrimSpace(r.URL) == "" {
			return errors.New("recognizer.url must be set when recognizer.type is http")
		}
		return validateHTTPURL("recognizer.url", r.URL)
	case "onnx":
		if strings.TrimSpace(r.BundleDir) == "" {
			return errors.New("recognizer.bundle_dir must be set when recognizer.type is onnx")
		}
		return nil
	default:
		return fmt.Errorf("recognizer.type must be http, onnx, or none, got %q", r.Type)
	}
}

func validateAuditConfig(a AuditConfig) error {
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			if err := validateHTTPURL(fmt.Sprintf("audit sink %d url", i), s.URL); err != nil {
				return err
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL", field)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be http or https", field)
	}
	return nil
}
