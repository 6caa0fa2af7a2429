package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/mitchellh/mapstructure"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := metadata.ValidateName(cfg.Hierarchy.RootName); err != nil {
		return fmt.Errorf("hierarchy.root_name: %w", err)
	}
	if err := metadata.ValidateName(cfg.Hierarchy.TrashName); err != nil {
		return fmt.Errorf("hierarchy.trash_name: %w", err)
	}
	for i, name := range cfg.Hierarchy.SpecialNames {
		if err := metadata.ValidateName(name); err != nil {
			return fmt.Errorf("hierarchy.special_names[%d]: %w", i, err)
		}
	}

	// The collector lists permanent content and would treat scratch chunks
	// sharing its location as orphans.
	if sameLocation(&cfg.Content, &cfg.Scratch) {
		return fmt.Errorf("scratch: must not share its location with content")
	}

	if cfg.Uploads.Burst > 0 && cfg.Uploads.ChunksPerSecond == 0 {
		return fmt.Errorf("uploads: burst is set but chunks_per_second is 0")
	}
	if cfg.Uploads.PerOwnerBurst > 0 && cfg.Uploads.PerOwnerChunksPerSecond == 0 {
		return fmt.Errorf("uploads: per_owner_burst is set but per_owner_chunks_per_second is 0")
	}

	return nil
}

// sameLocation reports whether two content configs address the same storage.
func sameLocation(a, b *ContentConfig) bool {
	if a.Type != b.Type {
		return false
	}

	switch a.Type {
	case "filesystem":
		var pa, pb struct {
			Path string `mapstructure:"path"`
		}
		if mapstructure.Decode(a.Filesystem, &pa) != nil || mapstructure.Decode(b.Filesystem, &pb) != nil {
			return false
		}
		return pa.Path != "" && filepath.Clean(pa.Path) == filepath.Clean(pb.Path)
	case "s3":
		var sa, sb s3Options
		if mapstructure.Decode(a.S3, &sa) != nil || mapstructure.Decode(b.S3, &sb) != nil {
			return false
		}
		return sa.Bucket != "" && sa.Bucket == sb.Bucket && sa.Endpoint == sb.Endpoint && sa.KeyPrefix == sb.KeyPrefix
	default:
		return false
	}
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
