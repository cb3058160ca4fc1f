package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/coinledger/coinledger/pkg"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IsEmpty checks if a string is empty.
func IsEmpty(s string) bool {
	return s == ""
}

func GetTraceID(c *gin.Context) (string, error) {
	traceID := c.GetString(pkg.TraceId)
	if IsEmpty(traceID) {
		return "", errors.New("trace id is empty")
	}
	return traceID, nil
}

// ParseStructEnv binds env vars to struct fields using a mapstructure tag
func ParseStructEnv(cfg interface{}) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if IsEmpty(tag) {
			continue
		}
		if err := viper.BindEnv(tag); err != nil {
			return err
		}
	}
	return viper.Unmarshal(cfg)
}

// FormatConfigErrors turns validator errors into a single readable error and
// logs the offending fields.
func FormatConfigErrors(logger *zap.Logger, err error, cfg interface{}) error {
	var fields []string
	t := reflect.TypeOf(cfg)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	msg := err.Error()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		if strings.Contains(msg, "'"+name+"'") {
			fields = append(fields, t.Field(i).Tag.Get("mapstructure"))
		}
	}
	if len(fields) > 0 {
		logger.Error("invalid configuration", zap.Strings("fields", fields))
		return fmt.Errorf("invalid configuration for: %s", strings.Join(fields, ", "))
	}
	return err
}
