// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws_test

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	provideraws "github.com/cloudacademy/dbrefresh/internal/provider/aws"
	"github.com/cloudacademy/dbrefresh/internal/refresher"
)

type fakeSecretsManager struct {
	stub *testing.Stub
}

func (f *fakeSecretsManager) CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.stub.AddCall("CreateSecret", in)
	if err := f.stub.NextErr(); err != nil {
		return nil, err
	}
	return &secretsmanager.CreateSecretOutput{
		ARN: awssdk.String("arn:secret:" + awssdk.ToString(in.Name)),
	}, nil
}

func (f *fakeSecretsManager) PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.stub.AddCall("PutSecretValue", in)
	if err := f.stub.NextErr(); err != nil {
		return nil, err
	}
	return &secretsmanager.PutSecretValueOutput{
		ARN: awssdk.String("arn:secret:" + awssdk.ToString(in.SecretId)),
	}, nil
}

func (f *fakeSecretsManager) DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	f.stub.AddCall("DeleteSecret", in)
	return &secretsmanager.DeleteSecretOutput{}, f.stub.NextErr()
}

type secretsSuite struct {
	testing.IsolationSuite

	backend *fakeSecretsManager
	secrets *provideraws.Secrets
}

var _ = gc.Suite(&secretsSuite{})

func (s *secretsSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.backend = &fakeSecretsManager{stub: &testing.Stub{}}
	s.secrets = provideraws.NewSecrets(s.backend)
}

var payload = refresher.SecretPayload{
	Username:  "admin",
	Password:  "sekrit",
	Host:      "clone-1.cluster.example.internal",
	Port:      5432,
	ClusterID: "clone-1",
}

func (s *secretsSuite) TestCreate(c *gc.C) {
	ref, err := s.secrets.Create(context.Background(), "clone-1-credentials", payload, map[string]string{
		"dbrefresh-managed-by": "dbrefresh",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ref, gc.Equals, "arn:secret:clone-1-credentials")

	in := s.backend.stub.Calls()[0].Args[0].(*secretsmanager.CreateSecretInput)
	c.Check(awssdk.ToString(in.Name), gc.Equals, "clone-1-credentials")
	c.Check(awssdk.ToString(in.SecretString), gc.Equals,
		`{"username":"admin","password":"sekrit","host":"clone-1.cluster.example.internal","port":5432,"cluster-id":"clone-1"}`)
	c.Check(in.Tags, gc.DeepEquals, []smtypes.Tag{
		{Key: awssdk.String("dbrefresh-managed-by"), Value: awssdk.String("dbrefresh")},
	})
}

func (s *secretsSuite) TestCreateReplacesExisting(c *gc.C) {
	s.backend.stub.SetErrors(&smithy.GenericAPIError{Code: "ResourceExistsException", Message: "exists"})

	ref, err := s.secrets.Create(context.Background(), "clone-1-credentials", payload, nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ref, gc.Equals, "arn:secret:clone-1-credentials")
	s.backend.stub.CheckCallNames(c, "CreateSecret", "PutSecretValue")
}

func (s *secretsSuite) TestDeleteSkipsRecoveryWindow(c *gc.C) {
	err := s.secrets.Delete(context.Background(), "clone-1-credentials")
	c.Assert(err, jc.ErrorIsNil)

	in := s.backend.stub.Calls()[0].Args[0].(*secretsmanager.DeleteSecretInput)
	c.Check(awssdk.ToString(in.SecretId), gc.Equals, "clone-1-credentials")
	c.Check(awssdk.ToBool(in.ForceDeleteWithoutRecovery), jc.IsTrue)
}

func (s *secretsSuite) TestDeleteAbsentNotAnError(c *gc.C) {
	s.backend.stub.SetErrors(&smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "gone"})
	err := s.secrets.Delete(context.Background(), "clone-1-credentials")
	c.Assert(err, jc.ErrorIsNil)
}
