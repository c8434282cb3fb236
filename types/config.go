package types

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string                 `yaml:"name" json:"name" validate:"required"`
	Version     string                 `yaml:"version" json:"version" validate:"required"`
	Environment string                 `yaml:"environment" json:"environment"`
	Server      *ServerConfig          `yaml:"server" json:"server" validate:"required"`
	HTTP        *PipelineConfig        `yaml:"http" json:"http" validate:"required"`
	Session     *SessionConfig         `yaml:"session" json:"session" validate:"required"`
	Controllers *ControllersConfig     `yaml:"controllers" json:"controllers"`
	Paths       *PathsConfig           `yaml:"paths" json:"paths"`
	Cache       *StaticCacheConfig     `yaml:"cache" json:"cache"`
	Logger      *LoggerConfig          `yaml:"logger" json:"logger" validate:"required"`
	Metrics     *MetricsConfig         `yaml:"metrics" json:"metrics"`
	Auth        *AuthConfig            `yaml:"auth" json:"auth"`
	Health      *HealthConfig          `yaml:"health" json:"health"`
	Policies    map[string]interface{} `yaml:"policies" json:"policies"`
	PolicyFile  string                 `yaml:"policies_file" json:"policies_file"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file,omitempty" json:"cert_file,omitempty" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty" validate:"required_if=Enabled true"`
}

// PipelineConfig drives which stages the middleware registry installs.
type PipelineConfig struct {
	PoweredBy      string                `yaml:"powered_by" json:"powered_by"`
	BodyParser     *BodyParserConfig     `yaml:"body_parser" json:"body_parser"`
	CookieParser   *CookieParserConfig   `yaml:"cookie_parser" json:"cookie_parser"`
	MethodOverride *MethodOverrideConfig `yaml:"method_override" json:"method_override"`
	ErrorView      *ErrorViewConfig      `yaml:"error_view" json:"error_view"`
	Logging        *LoggingConfig        `yaml:"logging" json:"logging"`
}

type BodyParserConfig struct {
	Enabled       bool  `yaml:"enabled" json:"enabled"`
	RetryWithJSON bool  `yaml:"retry_with_json" json:"retry_with_json"`
	MaxBodySize   int64 `yaml:"max_body_size" json:"max_body_size" validate:"min=0"`
}

type CookieParserConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type MethodOverrideConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Field   string `yaml:"field" json:"field"`
}

type ErrorViewConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogHeaders bool   `yaml:"log_headers" json:"log_headers"`
}

type SessionConfig struct {
	Secret        string      `yaml:"secret" json:"secret"`
	CookieName    string      `yaml:"cookie_name" json:"cookie_name" validate:"required"`
	MaxAge        int         `yaml:"max_age" json:"max_age" validate:"min=0"`
	Store         string      `yaml:"store" json:"store" validate:"oneof=memory redis"`
	SweepSchedule string      `yaml:"sweep_schedule" json:"sweep_schedule"`
	Config        interface{} `yaml:"config" json:"config"`
}

type ControllersConfig struct {
	CSRF bool `yaml:"csrf" json:"csrf"`
}

type PathsConfig struct {
	Public string `yaml:"public" json:"public"`
	Views  string `yaml:"views" json:"views"`
}

type HealthConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	CheckTimeout int  `yaml:"check_timeout" json:"check_timeout" validate:"min=0"`
}

// AuthConfig feeds the built-in "token" and "basic" policies.
type AuthConfig struct {
	Token string           `yaml:"token" json:"token"`
	Basic *BasicAuthConfig `yaml:"basic" json:"basic"`
}

type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
	Realm    string `yaml:"realm" json:"realm"`
}

type StaticCacheConfig struct {
	MaxAge int `yaml:"max_age" json:"max_age" validate:"min=0"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Type            string            `yaml:"type" json:"type" validate:"omitempty,oneof=prometheus memory"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Path            string            `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}
