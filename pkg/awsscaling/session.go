package awsscaling

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// NewSession returns an AWS session using the shared config and credential
// chain. An empty region falls back to AWS_REGION or the shared config.
func NewSession(region string) (*session.Session, error) {
	opts := session.Options{SharedConfigState: session.SharedConfigEnable}
	if region != "" {
		opts.Config = aws.Config{Region: aws.String(region)}
	}
	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return sess, nil
}
