// Package config defines the application configuration model and loads it
// from environment variables at startup. Configuration is constructed once
// in cmd/server and passed by reference into each component's constructor;
// nothing in the scheduling path reads ambient globals.
package config
