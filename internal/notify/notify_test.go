// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notify_test

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/cloudacademy/dbrefresh/core/clone"
	"github.com/cloudacademy/dbrefresh/internal/notify"
)

type eventSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&eventSuite{})

func (s *eventSuite) TestSuccess(c *gc.C) {
	event := notify.Success("prod-db", 2, "clone-2")
	c.Assert(event, gc.DeepEquals, notify.Event{
		Source:     "prod-db",
		Outcome:    notify.OutcomeSuccess,
		Generation: 2,
		ClusterID:  "clone-2",
	})
}

func (s *eventSuite) TestFailureDerivesStageAndKind(c *gc.C) {
	for _, t := range []struct {
		err   error
		stage notify.Stage
		kind  string
	}{{
		err:   errors.Annotatef(clone.DiscoveryInconsistent, "cluster drift"),
		stage: notify.StageDiscover,
		kind:  "discovery-inconsistent",
	}, {
		err:   errors.Annotatef(clone.ProvisionFailed, "quota exceeded"),
		stage: notify.StageCreateClone,
		kind:  "provision-failed",
	}, {
		err:   errors.Annotatef(clone.ProvisionTimeout, "still creating"),
		stage: notify.StageWaitAvailable,
		kind:  "provision-timeout",
	}, {
		err:   errors.Annotatef(clone.AccessConfigFailed, "rule conflict"),
		stage: notify.StageConfigureAccess,
		kind:  "access-config-failed",
	}, {
		err:   errors.Annotatef(clone.RetireFailed, "dependency violation"),
		stage: notify.StageRetirePrevious,
		kind:  "retire-failed",
	}} {
		event := notify.Failure("prod-db", t.err)
		c.Check(event.Outcome, gc.Equals, notify.OutcomeFailure)
		c.Check(event.Stage, gc.Equals, t.stage, gc.Commentf("error %v", t.err))
		c.Check(event.Kind, gc.Equals, t.kind)
		c.Check(event.Message, gc.Equals, t.err.Error())
	}
}

func (s *eventSuite) TestFailureUnknownKind(c *gc.C) {
	event := notify.Failure("prod-db", errors.New("boom"))
	c.Assert(event.Stage, gc.Equals, notify.StageInternal)
	c.Assert(event.Kind, gc.Equals, "internal")
	c.Assert(event.Message, gc.Equals, "boom")
}

type snsSuite struct {
	testing.IsolationSuite

	stub      testing.Stub
	published []*sns.PublishInput
}

var _ = gc.Suite(&snsSuite{})

func (s *snsSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.stub.ResetCalls()
	s.published = nil
}

func (s *snsSuite) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.stub.AddCall("Publish", params)
	s.published = append(s.published, params)
	if err := s.stub.NextErr(); err != nil {
		return nil, err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func (s *snsSuite) TestPublish(c *gc.C) {
	emitter := notify.NewSNSEmitter(s, "arn:aws:sns:eu-west-1:123456789012:refresh-events")
	err := emitter.Publish(context.Background(), notify.Success("prod-db", 2, "clone-2"))
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(s.published, gc.HasLen, 1)
	input := s.published[0]
	c.Assert(aws.ToString(input.TopicArn), gc.Equals, "arn:aws:sns:eu-west-1:123456789012:refresh-events")
	c.Assert(aws.ToString(input.Subject), gc.Equals, "dbrefresh success: prod-db")
	c.Assert(aws.ToString(input.MessageAttributes["outcome"].StringValue), gc.Equals, "success")
	c.Assert(aws.ToString(input.MessageAttributes["source"].StringValue), gc.Equals, "prod-db")

	var event notify.Event
	err = json.Unmarshal([]byte(aws.ToString(input.Message)), &event)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(event, gc.DeepEquals, notify.Success("prod-db", 2, "clone-2"))
}

func (s *snsSuite) TestPublishError(c *gc.C) {
	s.stub.SetErrors(errors.New("throttled"))
	emitter := notify.NewSNSEmitter(s, "arn:aws:sns:eu-west-1:123456789012:refresh-events")
	err := emitter.Publish(context.Background(), notify.Failure("prod-db", errors.New("boom")))
	c.Assert(err, gc.ErrorMatches, `publishing failure event for "prod-db": throttled`)
}
