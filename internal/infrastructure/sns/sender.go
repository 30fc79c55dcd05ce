package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/deadlock-vault/internal/domain"
)

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher fans nominee notices out through an SNS topic. Subscribers
// receive the notice as JSON and can filter on the vault_id attribute.
type Publisher struct {
	client   publisher
	topicARN string
}

// NewClient builds an SNS client for region, reusing the shared AWS config.
func NewClient(awsCfg aws.Config, region string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if region != "" {
			o.Region = region
		}
	})
}

func NewPublisher(client publisher, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

func (p *Publisher) Notify(ctx context.Context, n domain.NomineeNotice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Vault nominee notice"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"vault_id": {DataType: aws.String("String"), StringValue: aws.String(n.VaultID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
