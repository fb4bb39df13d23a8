package utils

// Filled in at link time with -ldflags "-X github.com/alpacahq/marketqueue/utils.Tag=...".
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
