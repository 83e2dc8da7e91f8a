// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/juju/errors"
)

// Stack bundles the AWS-backed providers for one region. Credentials
// come from the default chain: environment, shared config, instance
// role.
type Stack struct {
	Clusters *Clusters
	Network  *Network
	Secrets  *Secrets
	SNS      *sns.Client
}

// NewStack builds clients for the given region and wraps them in the
// provider implementations.
func NewStack(ctx context.Context, region, vpcID string) (*Stack, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Annotate(err, "loading AWS configuration")
	}
	return &Stack{
		Clusters: NewClusters(rds.NewFromConfig(cfg)),
		Network:  NewNetwork(ec2.NewFromConfig(cfg), vpcID),
		Secrets:  NewSecrets(secretsmanager.NewFromConfig(cfg)),
		SNS:      sns.NewFromConfig(cfg),
	}, nil
}
