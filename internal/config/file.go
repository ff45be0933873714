// SPDX-License-Identifier: MIT

package config

// FileConfig is the on-disk YAML shape. Fields where zero is a meaningful
// override (bools, ints, floats) are pointers so absence can be told apart
// from an explicit zero; durations are strings in Go duration syntax.
type FileConfig struct {
	Server struct {
		Listen          string   `yaml:"listen"`
		MetricsListen   string   `yaml:"metricsListen"`
		PublicBaseURL   string   `yaml:"publicBaseUrl"`
		ReadTimeout     string   `yaml:"readTimeout"`
		WriteTimeout    string   `yaml:"writeTimeout"`
		IdleTimeout     string   `yaml:"idleTimeout"`
		ShutdownTimeout string   `yaml:"shutdownTimeout"`
		CORSOrigins     []string `yaml:"corsOrigins"`
		RateLimitRPM    *int     `yaml:"rateLimitRpm"`
		TrustedProxies  []string `yaml:"trustedProxies"`
	} `yaml:"server"`

	Storage struct {
		Backend       string `yaml:"backend"`
		Path          string `yaml:"path"`
		RedisAddr     string `yaml:"redisAddr"`
		RedisPassword string `yaml:"redisPassword"`
		RedisDB       *int   `yaml:"redisDb"`
	} `yaml:"storage"`

	Auth struct {
		PrincipalHeader string `yaml:"principalHeader"`
		StudentDomain   string `yaml:"studentDomain"`
		TeacherDomain   string `yaml:"teacherDomain"`
	} `yaml:"auth"`

	Token struct {
		RotatingTTL      string `yaml:"rotatingTtl"`
		RotatingCacheTTL string `yaml:"rotatingCacheTtl"`
		ChainTTL         string `yaml:"chainTtl"`
		SessionCacheTTL  string `yaml:"sessionCacheTtl"`
	} `yaml:"token"`

	Chain struct {
		DefaultLength  *int   `yaml:"defaultLength"`
		StallThreshold string `yaml:"stallThreshold"`
		SweepInterval  string `yaml:"sweepInterval"`
		OwnerTransfer  *bool  `yaml:"ownerTransfer"`
	} `yaml:"chain"`

	AntiCheat struct {
		DeviceLimit *int   `yaml:"deviceLimit"`
		IPLimit     *int   `yaml:"ipLimit"`
		Window      string `yaml:"window"`
	} `yaml:"antiCheat"`

	Realtime struct {
		Enabled      *bool  `yaml:"enabled"`
		NegotiateTTL string `yaml:"negotiateTtl"`
	} `yaml:"realtime"`

	Telemetry struct {
		OTLPEndpoint string   `yaml:"otlpEndpoint"`
		OTLPProtocol string   `yaml:"otlpProtocol"`
		SampleRatio  *float64 `yaml:"sampleRatio"`
		Insecure     *bool    `yaml:"insecure"`
	} `yaml:"telemetry"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Report struct {
		Dir string `yaml:"dir"`
	} `yaml:"report"`
}
