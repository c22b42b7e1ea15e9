package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"folio/services/site/internal/config"
	"gopkg.in/yaml.v3"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	path := os.Args[1]

	if err := checkKnownFields(path); err != nil {
		exitErr(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		exitErr(err)
	}

	storeBackend := "postgres"
	if cfg.DatabaseURL == "" {
		storeBackend = "memory"
	}
	limiterBackend := "redis"
	if cfg.RedisAddr == "" {
		limiterBackend = "memory"
	}
	fmt.Printf("environment: %s\n", cfg.Environment)
	fmt.Printf("store: %s\n", storeBackend)
	fmt.Printf("rate limiter: %s\n", limiterBackend)
	fmt.Printf("allowed origins: %d\n", len(cfg.AllowedOrigins))
	fmt.Println("Config check passed.")
}

// checkKnownFields rejects keys that the loader would silently ignore.
func checkKnownFields(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var cfg config.FileConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
