package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks field ranges and the cross-field rules struct tags cannot express.
func Validate(cfg *AppConfig) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if cfg.Weather.Enabled && cfg.Weather.ICAOCode == "" {
		problems = append(problems, "weather.icao_code is required when weather is enabled")
	}
	switch cfg.Upload.Method {
	case "api":
		if cfg.Upload.API == nil {
			problems = append(problems, "upload.api is required when upload.method is api")
		}
	case "sftp":
		if cfg.Upload.SFTP == nil {
			problems = append(problems, "upload.sftp is required when upload.method is sftp")
		}
	case "s3":
		if cfg.Upload.S3 == nil {
			problems = append(problems, "upload.s3 is required when upload.method is s3")
		}
	}
	if cfg.Upload.CleanCopy && cfg.Upload.Method == "api" {
		problems = append(problems, "upload.clean_copy needs a file sink (sftp or s3)")
	}
	if (cfg.Camera.RTSPUser == "") != (cfg.Camera.RTSPPassword == "") {
		problems = append(problems, "camera.rtsp_user and camera.rtsp_password must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "AppConfig.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
