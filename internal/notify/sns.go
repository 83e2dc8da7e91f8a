// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("dbrefresh.notify")

// PublishAPI is the part of the SNS client the emitter uses.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSEmitter publishes cycle events to an SNS topic. The message body
// is the JSON-encoded event; outcome and source are duplicated as
// message attributes so subscriptions can filter without parsing.
type SNSEmitter struct {
	client   PublishAPI
	topicARN string
}

// NewSNSEmitter returns an emitter publishing to the given topic.
func NewSNSEmitter(client PublishAPI, topicARN string) *SNSEmitter {
	return &SNSEmitter{client: client, topicARN: topicARN}
}

// Publish implements the notifier contract.
func (e *SNSEmitter) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Trace(err)
	}
	out, err := e.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.topicARN),
		Subject:  aws.String(fmt.Sprintf("dbrefresh %s: %s", event.Outcome, event.Source)),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Outcome)),
			},
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Source),
			},
		},
	})
	if err != nil {
		return errors.Annotatef(err, "publishing %s event for %q", event.Outcome, event.Source)
	}
	logger.Debugf("published %s event for %q as message %s", event.Outcome, event.Source, aws.ToString(out.MessageId))
	return nil
}
