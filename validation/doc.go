// Package validation checks configuration structs.
//
// Struct tags are evaluated with go-playground/validator and reported with
// the mapstructure key of the offending field, so messages point at the
// config file:
//
//	type Config struct {
//	    Brokers []string `mapstructure:"brokers" validate:"required,min=1,dive,hostname_port"`
//	}
//	err := validation.Validate(cfg)
//
// Checks that depend on more than one field use the programmatic Validator:
//
//	v := validation.New("kafka")
//	v.Custom(cfg.GroupID != "", "group_id", "is required for consumers")
//	return v.Error()
//
// Both return *errors.AppError with code INVALID_CONFIG.
package validation
