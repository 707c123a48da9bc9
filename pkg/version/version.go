package version

// Version is overridden at build time with -ldflags "-X estate-voice-server/pkg/version.Version=..."
var Version = "0.1.0"

// UserAgent returns the User-Agent sent to speech providers
func UserAgent() string {
	return "estate-voice/" + Version
}

// ServerHeader returns the Server header of HTTP responses
func ServerHeader() string {
	return "estate-voice/" + Version
}
