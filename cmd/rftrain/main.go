package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"rforest/internal/cfg"
	"rforest/internal/dataset"
	"rforest/internal/forest"
	"rforest/internal/metrics"
	"rforest/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		dataPath  = flag.String("data", "", "Path to headerless CSV dataset (overrides config)")
		trees     = flag.Int("trees", 0, "Number of trees (overrides config)")
		seed      = flag.Int64("seed", -1, "Random seed for the split and the forest (overrides config)")
		testSize  = flag.Float64("test-size", 0, "Fraction of rows held out for scoring (overrides config)")
		save      = flag.Bool("save", true, "Persist the trained forest to the model store")
		activate  = flag.Bool("activate", true, "Mark the saved version as active")
		exportTo  = flag.String("export", "", "Also write the trained forest as JSON to this file")
		logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
		modelName = flag.String("name", "", "Model name in the store (overrides config)")
	)
	flag.Parse()

	// Load configuration
	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Override config with command line arguments
	if *dataPath != "" {
		config.DatasetPath = *dataPath
	}
	if *trees > 0 {
		config.NClassifiers = *trees
	}
	if *seed >= 0 {
		config.Seed, config.Seeded = uint64(*seed), true
	}
	if *testSize > 0 {
		config.TestSize = *testSize
	}
	if *modelName != "" {
		config.ModelName = *modelName
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	// Setup logging
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if !config.Seeded {
		config.Seed, config.Seeded = rand.Uint64(), true
	}

	x, y, err := dataset.LoadCSV(config.DatasetPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}

	splitRNG := rand.New(rand.NewPCG(config.Seed, 0))
	xTrain, xTest, yTrain, yTest, err := dataset.TrainTestSplit(x, y, config.TestSize, splitRNG)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to split dataset")
	}

	opts, err := config.ForestOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid forest settings")
	}
	m := metrics.New()
	opts = append(opts,
		forest.WithLogger(log.Logger),
		forest.WithMetrics(metrics.NewRecorder(m)),
	)

	start := time.Now()
	f := forest.New[string](opts...)
	if err := f.Fit(xTrain, yTrain); err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	predicted, err := f.Predict(xTest)
	if err != nil {
		log.Fatal().Err(err).Msg("Prediction failed")
	}
	elapsed := time.Since(start)

	accuracy, err := dataset.Accuracy(yTest, predicted)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}

	fmt.Println("=== Training Results ===")
	fmt.Printf("Dataset:      %s\n", config.DatasetPath)
	fmt.Printf("Rows:         %d train / %d test\n", len(xTrain), len(xTest))
	fmt.Printf("Trees:        %d (subspace %d of %d features)\n", f.NClassifiers(), f.Subspace(), f.NFeatures())
	fmt.Printf("Seed:         %d\n", f.Seed())
	fmt.Printf("Accuracy:     %.4f\n", accuracy)
	fmt.Printf("Running time: %.3fs\n", elapsed.Seconds())
	fmt.Println("========================")

	if *exportTo != "" {
		data, err := f.MarshalJSON()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode forest")
		}
		if err := os.WriteFile(*exportTo, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write forest")
		}
		log.Info().Str("file", *exportTo).Msg("Forest exported")
	}

	if !*save {
		return
	}

	if err := os.MkdirAll(config.DataPath, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}
	store, err := storage.New(config.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model store")
	}
	defer store.Close()

	version, err := store.SaveModel(config.ModelName, f, storage.ModelMetrics{
		Accuracy:        accuracy,
		TrainingSamples: len(xTrain),
		TestSamples:     len(xTest),
		Trees:           f.NClassifiers(),
		Features:        f.NFeatures(),
		Classes:         len(f.Classes()),
		TrainSeconds:    elapsed.Seconds(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to save model")
		return
	}
	if *activate {
		if err := store.ActivateVersion(config.ModelName, version.Version); err != nil {
			log.Error().Err(err).Msg("Failed to activate model")
			return
		}
	}

	log.Info().
		Str("model", version.Name).
		Str("version", version.Version).
		Bool("active", *activate).
		Msg("Model saved")
}
