package cache

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// LoadConfig reads configuration from the given file (optional) and from
// MODELCACHE_* environment variables, layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MODELCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("redis_password", "")

	v.SetDefault("artifact_root", def.ArtifactRoot)
	v.SetDefault("max_size_bytes", def.MaxSizeBytes)
	v.SetDefault("max_entries", def.MaxEntries)
	v.SetDefault("min_free_disk_ratio", def.MinFreeDiskRatio)
	v.SetDefault("candidate_limit", def.CandidateLimit)

	v.SetDefault("similarity.semantic_weight", def.Similarity.SemanticWeight)
	v.SetDefault("similarity.basic_weight", def.Similarity.BasicWeight)
	v.SetDefault("similarity.jaccard_weight", def.Similarity.JaccardWeight)
	v.SetDefault("similarity.cosine_weight", def.Similarity.CosineWeight)
	v.SetDefault("similarity.length_weight", def.Similarity.LengthWeight)
	v.SetDefault("similarity.ngram_weight", def.Similarity.NGramWeight)
	v.SetDefault("similarity.exact_threshold", def.Similarity.ExactThreshold)
	v.SetDefault("similarity.high_threshold", def.Similarity.HighThreshold)
	v.SetDefault("similarity.medium_threshold", def.Similarity.MediumThreshold)
	v.SetDefault("similarity.low_threshold", def.Similarity.LowThreshold)

	v.SetDefault("eviction.age_weight", def.Eviction.AgeWeight)
	v.SetDefault("eviction.access_weight", def.Eviction.AccessWeight)
	v.SetDefault("eviction.size_weight", def.Eviction.SizeWeight)
	v.SetDefault("eviction.similarity_weight", def.Eviction.SimilarityWeight)
	v.SetDefault("eviction.recency_bonus", def.Eviction.RecencyBonus)
	v.SetDefault("eviction.cleanup_threshold", def.Eviction.CleanupThreshold)
	v.SetDefault("eviction.cleanup_target", def.Eviction.CleanupTarget)

	v.SetDefault("warmup_cooldown", def.WarmupCooldown)
	v.SetDefault("warmup_batch_limit", def.WarmupBatchLimit)
	v.SetDefault("warmup_concurrency", def.WarmupConcurrency)
	v.SetDefault("popular_window", def.PopularWindow)
	v.SetDefault("similarity_seed_age", def.SimilaritySeedAge)
	v.SetDefault("warmup_score_floor", def.WarmupScoreFloor)

	v.SetDefault("tracker_flush_interval", def.TrackerFlushInterval)
	v.SetDefault("tracker_batch_size", def.TrackerBatchSize)

	v.SetDefault("cleanup_check_interval", def.CleanupCheckInterval)
	v.SetDefault("warmup_interval", def.WarmupInterval)
	v.SetDefault("stats_report_interval", def.StatsReportInterval)
	v.SetDefault("snapshot_interval", def.SnapshotInterval)
	v.SetDefault("snapshot_retention", def.SnapshotRetention)
}
