package env

import (
	"fmt"
	"sync"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME           string `zog:"HOME"`
	CONFIG_PATH    string `zog:"HIGGSFIELD_CONFIG"`
	ACCESS_TOKEN   string `zog:"HIGGSFIELD_ACCESS_TOKEN"`
	REFRESH_TOKEN  string `zog:"HIGGSFIELD_REFRESH_TOKEN"`
	CLIENT_ID      string `zog:"HIGGSFIELD_CLIENT_ID"`
	CLIENT_SECRET  string `zog:"HIGGSFIELD_CLIENT_SECRET"`
	WEBHOOK_SECRET string `zog:"HIGGSFIELD_WEBHOOK_SECRET"`
	LOG_LEVEL      string `zog:"HIGGSFIELD_LOG_LEVEL"`
}

var EnvSchema = z.Struct(z.Shape{
	"HOME":           z.String().Optional(),
	"CONFIG_PATH":    z.String().Optional().Trim(),
	"ACCESS_TOKEN":   z.String().Optional().Trim(),
	"REFRESH_TOKEN":  z.String().Optional().Trim(),
	"CLIENT_ID":      z.String().Optional().Trim(),
	"CLIENT_SECRET":  z.String().Optional(),
	"WEBHOOK_SECRET": z.String().Optional(),
	"LOG_LEVEL":      z.String().Optional().Trim().OneOf([]string{"", "debug", "info", "warn", "error"}),
})

var (
	mu  sync.Mutex
	env *EnvStruct
)

// Load parses the process environment.
func Load() (*EnvStruct, error) {
	parsed := &EnvStruct{}
	if issues := EnvSchema.Parse(zenv.NewDataProvider(), parsed); len(issues) > 0 {
		return nil, fmt.Errorf("invalid environment:\n%s", z.Issues.Prettify(issues))
	}
	return parsed, nil
}

// Get returns the environment parsed on first use.
func Get() (*EnvStruct, error) {
	mu.Lock()
	defer mu.Unlock()
	if env == nil {
		parsed, err := Load()
		if err != nil {
			return nil, err
		}
		env = parsed
	}
	return env, nil
}
