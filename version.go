package main

// Build metadata, overridden at release time via -ldflags:
//
//	-X main.Version=... -X main.Commit=... -X main.BuildTime=...
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
