package hosts

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ec2API is the part of the EC2 client the pool uses
type ec2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, in *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// AWSPool implements Pool for EC2
type AWSPool struct {
	client ec2API
}

// NewAWSPool creates a pool using static credentials
func NewAWSPool(ctx context.Context, region, accessKey, secretKey string) (*AWSPool, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSPool{client: ec2.NewFromConfig(cfg)}, nil
}

// Create creates a new EC2 instance and waits until it is running
func (p *AWSPool) Create(ctx context.Context, spec NodeSpec) (*Node, error) {
	userData, err := generateUserData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: p.mapResourcesToInstanceType(spec.Cores, spec.Memory),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &types.EbsBlockDevice{
					VolumeSize:          aws.Int32(int32(spec.DiskSize)),
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
					{Key: aws.String("clusterswarm"), Value: aws.String("true")},
				},
			},
		},
	}
	if spec.Zone != "" {
		input.Placement = &types.Placement{AvailabilityZone: aws.String(spec.Zone)}
	}

	output, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(output.Instances) == 0 {
		return nil, fmt.Errorf("run instances returned no instance")
	}
	instanceID := aws.ToString(output.Instances[0].InstanceId)

	for i := 0; i < 60; i++ {
		desc, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe instance: %w", err)
		}

		if len(desc.Reservations) > 0 && len(desc.Reservations[0].Instances) > 0 {
			inst := desc.Reservations[0].Instances[0]
			if inst.State != nil && inst.State.Name == types.InstanceStateNameRunning {
				node := &Node{
					ID:        aws.ToString(inst.InstanceId),
					IP:        aws.ToString(inst.PublicIpAddress),
					PrivateIP: aws.ToString(inst.PrivateIpAddress),
					Name:      spec.Name,
					Status:    string(inst.State.Name),
					Username:  spec.Username,
					Windows:   spec.Windows,
				}
				if inst.Placement != nil {
					node.Zone = aws.ToString(inst.Placement.AvailabilityZone)
				}
				return node, nil
			}
		}

		if err := sleepCtx(ctx, waitInterval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("timed out waiting for instance %s to be running", instanceID)
}

// Delete terminates an EC2 instance
func (p *AWSPool) Delete(ctx context.Context, id string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance: %w", err)
	}
	return nil
}

// DisableSourceDestCheck lets the instance forward traffic for pod subnets
func (p *AWSPool) DisableSourceDestCheck(ctx context.Context, id string) error {
	_, err := p.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:      aws.String(id),
		SourceDestCheck: &types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	if err != nil {
		return fmt.Errorf("failed to disable source/dest check on %s: %w", id, err)
	}
	return nil
}

func (p *AWSPool) mapResourcesToInstanceType(cores int, memory int64) types.InstanceType {
	if cores <= 1 && memory <= 2 {
		return types.InstanceTypeT3Micro
	}
	if cores <= 2 && memory <= 4 {
		return types.InstanceTypeT3Medium
	}
	if cores <= 2 && memory <= 8 {
		return types.InstanceTypeT3Large
	}
	return types.InstanceTypeT3Xlarge
}
