package internal

import "time"

type Config struct {
	// Identity of the session owning the bridge, "@user:homeserver"
	LocalUserID string `env:"LOCAL_USER_ID,required=true"`

	// Remote bridge directory endpoint
	BridgeBaseURL   string `env:"BRIDGE_BASE_URL,required=true"`
	BridgeServiceID string `env:"BRIDGE_SERVICE_ID,default=bridged"`

	ListenAddr     string `env:"LISTEN_ADDR,default=0.0.0.0:8080"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,required=true"`

	// Overrides the development signing key when set
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`

	InviteBufferSize int           `env:"INVITE_BUFFER_SIZE,default=16"`
	HealthInterval   time.Duration `env:"HEALTH_INTERVAL,default=5s"`
	DebugPort        int           `env:"DEBUG_PORT,default=8081"`
}
