// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads and validates the orchestrator configuration.
// The file is YAML, coerced through a strict schema so that unknown
// keys are rejected up front rather than silently ignored.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"

	"github.com/cloudacademy/dbrefresh/core/accessrule"
)

var configChecker = schema.StrictFieldMap(
	schema.Fields{
		"source-cluster":   schema.String(),
		"naming-prefix":    schema.String(),
		"allow-list":       schema.List(schema.String()),
		"db-port":          schema.ForceInt(),
		"instance-class":   schema.String(),
		"tags":             schema.StringMap(schema.String()),
		"refresh-interval": schema.TimeDuration(),
		"cycle-timeout":    schema.TimeDuration(),
		"grace-period":     schema.TimeDuration(),
		"poll-interval":    schema.TimeDuration(),
		"region":           schema.String(),
		"sns-topic-arn":    schema.String(),
		"subnet-group":     schema.String(),
		"vpc-id":           schema.String(),
	},
	schema.Defaults{
		"db-port":       5432,
		"tags":          schema.Omit,
		"grace-period":  schema.Omit,
		"poll-interval": "30s",
		"sns-topic-arn": "",
		"subnet-group":  "",
	},
)

// Config is the validated orchestrator configuration for one source
// cluster.
type Config struct {
	// SourceCluster is the production cluster to clone.
	SourceCluster string
	// NamingPrefix names clone generations as <prefix>-<n>.
	NamingPrefix string
	// AllowList is the set of source CIDRs allowed to reach a clone.
	AllowList []string
	// DBPort is the database port the allow-list applies to.
	DBPort int
	// InstanceClass sizes the reader instance of each clone.
	InstanceClass string
	// Tags are attached to every created resource.
	Tags map[string]string
	// RefreshInterval is the cadence between refresh cycles.
	RefreshInterval time.Duration
	// CycleTimeout bounds the wait for a clone to become available.
	CycleTimeout time.Duration
	// GracePeriod is how long an unconfigured newest generation blocks
	// a new cycle. Defaults to CycleTimeout.
	GracePeriod time.Duration
	// PollInterval is the initial delay between availability polls.
	PollInterval time.Duration
	// Region is the cloud region holding the source cluster.
	Region string
	// SNSTopicARN is the notification topic. Empty disables publishing.
	SNSTopicARN string
	// SubnetGroup optionally places clones in a specific subnet group.
	SubnetGroup string
	// VPCID is the network the clone security groups are created in.
	VPCID string
}

// Read loads and validates the configuration file at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing %q", path)
	}
	return cfg, nil
}

// Parse validates raw YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Annotate(err, "unmarshalling config")
	}
	coerced, err := configChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := coerced.(map[string]interface{})

	cfg := &Config{
		SourceCluster:   m["source-cluster"].(string),
		NamingPrefix:    m["naming-prefix"].(string),
		DBPort:          m["db-port"].(int),
		InstanceClass:   m["instance-class"].(string),
		RefreshInterval: m["refresh-interval"].(time.Duration),
		CycleTimeout:    m["cycle-timeout"].(time.Duration),
		PollInterval:    m["poll-interval"].(time.Duration),
		Region:          m["region"].(string),
		SNSTopicARN:     m["sns-topic-arn"].(string),
		SubnetGroup:     m["subnet-group"].(string),
		VPCID:           m["vpc-id"].(string),
	}
	for _, cidr := range m["allow-list"].([]interface{}) {
		cfg.AllowList = append(cfg.AllowList, cidr.(string))
	}
	if tags, ok := m["tags"]; ok {
		cfg.Tags = make(map[string]string)
		for k, v := range tags.(map[string]interface{}) {
			cfg.Tags[k] = v.(string)
		}
	}
	if grace, ok := m["grace-period"]; ok {
		cfg.GracePeriod = grace.(time.Duration)
	} else {
		cfg.GracePeriod = cfg.CycleTimeout
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SourceCluster == "" {
		return errors.NotValidf("empty source-cluster")
	}
	if c.NamingPrefix == "" {
		return errors.NotValidf("empty naming-prefix")
	}
	if c.InstanceClass == "" {
		return errors.NotValidf("empty instance-class")
	}
	if c.Region == "" {
		return errors.NotValidf("empty region")
	}
	if c.VPCID == "" {
		return errors.NotValidf("empty vpc-id")
	}
	if len(c.AllowList) == 0 {
		return errors.NotValidf("empty allow-list")
	}
	if c.RefreshInterval <= 0 {
		return errors.NotValidf("non-positive refresh-interval")
	}
	if c.CycleTimeout <= 0 {
		return errors.NotValidf("non-positive cycle-timeout")
	}
	if c.GracePeriod <= 0 {
		return errors.NotValidf("non-positive grace-period")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive poll-interval")
	}
	if err := c.Rules().Validate(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Rules is the ingress allow-list as access rules.
func (c *Config) Rules() accessrule.Rules {
	return accessrule.Rules{accessrule.NewRule(c.DBPort, c.AllowList...)}
}
