// Package config loads runtime configuration. Precedence, lowest to
// highest: built-in defaults, the properties file (portfolio and tunables),
// then GRIDMIND_* environment variables.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gridmind/gridmind/internal/model"
)

// AppConfig holds runtime configuration and the building portfolio.
type AppConfig struct {
	HTTPBind       string // address:port for the ops HTTP server
	PropertiesPath string // portfolio and tunables file

	KafkaBrokers     []string // bootstrap servers; empty selects the simulated telemetry source
	ObservationTopic string   // topic carrying building observations
	KafkaGroupID     string   // consumer group id

	KnowledgePath string // sqlite file path; empty selects the in-memory store
	SeedKnowledge bool   // insert demo patterns/solutions on startup

	EmbeddingURL    string // OpenAI-compatible endpoint; empty selects the hash embedder
	EmbeddingAPIKey string
	EmbeddingModel  string
	EmbeddingDims   int

	BMSBaseURL    string // building management system endpoint; empty selects the simulated actuator
	WeatherURL    string // weather service endpoint; empty selects a static snapshot
	WeatherAPIKey string
	WeatherTTL    time.Duration

	TariffPerKWh string // energy price as a decimal string
	Currency     string

	TopK                int
	AnomalyThreshold    float64
	DecisionGate        float64
	ExecuteConfidence   float64
	RecommendConfidence float64
	MinSavingsFraction  float64
	Workers             int
	CycleInterval       time.Duration
	MaxCycles           int
	ContextDepth        int

	LogFile string // optional logfile alongside stdout

	Buildings []model.Building
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPBind:            ":8080",
		PropertiesPath:      "./configs/gridmind.properties",
		ObservationTopic:    "building.observations",
		KafkaGroupID:        "gridmind",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDims:       384,
		WeatherTTL:          15 * time.Minute,
		TariffPerKWh:        "0.38",
		Currency:            "EUR",
		TopK:                3,
		AnomalyThreshold:    0.3,
		DecisionGate:        0.70,
		ExecuteConfidence:   0.80,
		RecommendConfidence: 0.70,
		MinSavingsFraction:  0.10,
		Workers:             4,
		CycleInterval:       5 * time.Minute,
		ContextDepth:        10,
	}
}

// Load builds the configuration from defaults, the properties file and the
// environment.
func Load() (*AppConfig, error) {
	cfg := defaults()
	cfg.PropertiesPath = getEnv("GRIDMIND_PROPERTIES_PATH", cfg.PropertiesPath)

	if err := cfg.loadProperties(cfg.PropertiesPath); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if len(cfg.Buildings) == 0 {
		return nil, errors.New("properties must define buildings=<id1,id2,...>")
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.HTTPBind = getEnv("GRIDMIND_HTTP_BIND", c.HTTPBind)
	if v := os.Getenv("GRIDMIND_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitAndTrim(v, ",")
	}
	c.ObservationTopic = getEnv("GRIDMIND_OBSERVATION_TOPIC", c.ObservationTopic)
	c.KafkaGroupID = getEnv("GRIDMIND_KAFKA_GROUP_ID", c.KafkaGroupID)
	c.KnowledgePath = getEnv("GRIDMIND_KNOWLEDGE_PATH", c.KnowledgePath)
	c.SeedKnowledge = getEnvBool("GRIDMIND_SEED_KNOWLEDGE", c.SeedKnowledge)
	c.EmbeddingURL = getEnv("GRIDMIND_EMBEDDING_URL", c.EmbeddingURL)
	c.EmbeddingAPIKey = getEnv("GRIDMIND_EMBEDDING_API_KEY", c.EmbeddingAPIKey)
	c.EmbeddingModel = getEnv("GRIDMIND_EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDims = getEnvInt("GRIDMIND_EMBEDDING_DIMS", c.EmbeddingDims)
	c.BMSBaseURL = getEnv("GRIDMIND_BMS_URL", c.BMSBaseURL)
	c.WeatherURL = getEnv("GRIDMIND_WEATHER_URL", c.WeatherURL)
	c.WeatherAPIKey = getEnv("GRIDMIND_WEATHER_API_KEY", c.WeatherAPIKey)
	c.TariffPerKWh = getEnv("GRIDMIND_TARIFF_PER_KWH", c.TariffPerKWh)
	c.Currency = getEnv("GRIDMIND_CURRENCY", c.Currency)
	c.TopK = getEnvInt("GRIDMIND_TOP_K", c.TopK)
	c.AnomalyThreshold = getEnvFloat("GRIDMIND_ANOMALY_THRESHOLD", c.AnomalyThreshold)
	c.DecisionGate = getEnvFloat("GRIDMIND_DECISION_GATE", c.DecisionGate)
	c.ExecuteConfidence = getEnvFloat("GRIDMIND_EXECUTE_CONFIDENCE", c.ExecuteConfidence)
	c.RecommendConfidence = getEnvFloat("GRIDMIND_RECOMMEND_CONFIDENCE", c.RecommendConfidence)
	c.MinSavingsFraction = getEnvFloat("GRIDMIND_MIN_SAVINGS_FRACTION", c.MinSavingsFraction)
	c.Workers = getEnvInt("GRIDMIND_WORKERS", c.Workers)
	if secs := getEnvInt("GRIDMIND_CYCLE_INTERVAL_SECONDS", 0); secs > 0 {
		c.CycleInterval = time.Duration(secs) * time.Second
	}
	c.MaxCycles = getEnvInt("GRIDMIND_MAX_CYCLES", c.MaxCycles)
	c.ContextDepth = getEnvInt("GRIDMIND_CONTEXT_DEPTH", c.ContextDepth)
	c.LogFile = getEnv("GRIDMIND_LOG_FILE", c.LogFile)
}

// loadProperties parses a key=value .properties file. A missing file is not
// an error so an env-only deployment works; a malformed one is.
func (c *AppConfig) loadProperties(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot open properties file %s: %w", path, err)
	}
	defer file.Close()

	byID := map[string]*model.Building{}
	var order []string

	s := bufio.NewScanner(file)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		switch k {
		case "buildings":
			for _, id := range splitAndTrim(v, ",") {
				if _, dup := byID[id]; dup {
					return fmt.Errorf("duplicate building id %s", id)
				}
				byID[id] = &model.Building{ID: id, Name: id}
				order = append(order, id)
			}
		case "http.bind":
			c.HTTPBind = v
		case "kafka.brokers":
			c.KafkaBrokers = splitAndTrim(v, ",")
		case "kafka.observation.topic":
			c.ObservationTopic = v
		case "kafka.group.id":
			c.KafkaGroupID = v
		case "knowledge.path":
			c.KnowledgePath = v
		case "knowledge.seed":
			c.SeedKnowledge = parseBool(v, c.SeedKnowledge)
		case "embedding.url":
			c.EmbeddingURL = v
		case "embedding.model":
			c.EmbeddingModel = v
		case "embedding.dims":
			c.EmbeddingDims = parseInt(v, c.EmbeddingDims)
		case "bms.url":
			c.BMSBaseURL = v
		case "weather.url":
			c.WeatherURL = v
		case "weather.cache.seconds":
			if secs := parseInt(v, 0); secs > 0 {
				c.WeatherTTL = time.Duration(secs) * time.Second
			}
		case "tariff.per.kwh":
			c.TariffPerKWh = v
		case "currency":
			c.Currency = v
		case "analysis.topk":
			c.TopK = parseInt(v, c.TopK)
		case "anomaly.threshold":
			c.AnomalyThreshold = parseFloat(v, c.AnomalyThreshold)
		case "decision.gate":
			c.DecisionGate = parseFloat(v, c.DecisionGate)
		case "decision.execute.confidence":
			c.ExecuteConfidence = parseFloat(v, c.ExecuteConfidence)
		case "decision.recommend.confidence":
			c.RecommendConfidence = parseFloat(v, c.RecommendConfidence)
		case "decision.min.savings":
			c.MinSavingsFraction = parseFloat(v, c.MinSavingsFraction)
		case "workers":
			c.Workers = parseInt(v, c.Workers)
		case "cycle.interval.seconds":
			if secs := parseInt(v, 0); secs > 0 {
				c.CycleInterval = time.Duration(secs) * time.Second
			}
		case "cycle.max":
			c.MaxCycles = parseInt(v, c.MaxCycles)
		case "context.depth":
			c.ContextDepth = parseInt(v, c.ContextDepth)
		case "log.file":
			c.LogFile = v
		default:
			// Per-building keys: building.<id>.name|type|peergroup|location
			if rest, found := strings.CutPrefix(k, "building."); found {
				id, field, ok := strings.Cut(rest, ".")
				if !ok {
					continue
				}
				b, known := byID[id]
				if !known {
					return fmt.Errorf("property %s references undeclared building %s", k, id)
				}
				switch field {
				case "name":
					b.Name = v
				case "type":
					b.Type = v
				case "peergroup":
					b.PeerGroup = v
				case "location":
					b.Location = v
				}
			}
		}
	}
	if err := s.Err(); err != nil {
		return err
	}

	for _, id := range order {
		c.Buildings = append(c.Buildings, *byID[id])
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	return parseInt(os.Getenv(key), def)
}

func getEnvFloat(key string, def float64) float64 {
	return parseFloat(os.Getenv(key), def)
}

func getEnvBool(key string, def bool) bool {
	return parseBool(os.Getenv(key), def)
}

func parseInt(v string, def int) int {
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func parseFloat(v string, def float64) float64 {
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
