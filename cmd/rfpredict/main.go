package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"rforest/internal/cfg"
	"rforest/internal/client"
	"rforest/internal/dataset"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		dataPath  = flag.String("data", "", "Path to headerless CSV rows to classify (overrides config)")
		serverURL = flag.String("server", "", "Model server URL (overrides config)")
		logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
		printAll  = flag.Bool("print", false, "Print every predicted label")
	)
	flag.Parse()

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *dataPath != "" {
		config.DatasetPath = *dataPath
	}
	if *serverURL != "" {
		config.ServerURL = *serverURL
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	x, y, err := dataset.LoadCSV(config.DatasetPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}

	ctx := context.Background()
	c := client.New(config.ServerURL, config.RequestTimeout)

	info, err := c.ModelInfo(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("server", config.ServerURL).Msg("Model server unavailable")
	}
	log.Info().
		Str("model", info.Name).
		Str("version", info.Version).
		Int("trees", info.Trees).
		Msg("Using served model")

	labels, err := c.Predict(ctx, x)
	if err != nil {
		log.Fatal().Err(err).Msg("Prediction failed")
	}

	if *printAll {
		for _, label := range labels {
			fmt.Println(label)
		}
	}

	accuracy, err := dataset.Accuracy(y, labels)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}
	fmt.Printf("Rows:     %d\n", len(labels))
	fmt.Printf("Model:    %s@%s\n", info.Name, info.Version)
	fmt.Printf("Accuracy: %.4f\n", accuracy)
}
