// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/juju/errors"

	"github.com/cloudacademy/dbrefresh/internal/refresher"
)

// SecretsAPI is the subset of the Secrets Manager client the secret
// store uses.
type SecretsAPI interface {
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// Secrets implements refresher.SecretStore on Secrets Manager.
type Secrets struct {
	client SecretsAPI
}

// NewSecrets returns a secret store backed by the given client.
func NewSecrets(client SecretsAPI) *Secrets {
	return &Secrets{client: client}
}

// Create implements refresher.SecretStore. If the secret already
// exists a new version of its value is stored instead, so re-running
// access configuration converges.
func (s *Secrets) Create(ctx context.Context, name string, payload refresher.SecretPayload, tags map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Trace(err)
	}
	out, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(body)),
		Tags:         smTags(tags),
	})
	if hasErrorCode(err, "ResourceExistsException") {
		put, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(string(body)),
		})
		if err != nil {
			return "", errors.Trace(err)
		}
		return aws.ToString(put.ARN), nil
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	return aws.ToString(out.ARN), nil
}

// Delete implements refresher.SecretStore. The recovery window is
// skipped: a retired generation's credential must stop working at
// retirement, not days later.
func (s *Secrets) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if hasErrorCode(err, "ResourceNotFoundException") {
		logger.Debugf("secret %q already gone", name)
		return nil
	}
	return errors.Trace(err)
}

func smTags(tags map[string]string) []smtypes.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]smtypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, smtypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
