package provisioning

import (
	"context"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

type eksClusterSpec struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	EKSConfig eksConfigSpec `json:"eksConfig"`
}

type eksConfigSpec struct {
	AmazonCredentialSecret string             `json:"amazonCredentialSecret"`
	DisplayName            string             `json:"displayName"`
	Imported               bool               `json:"imported"`
	KubernetesVersion      string             `json:"kubernetesVersion"`
	Region                 string             `json:"region"`
	PrivateAccess          bool               `json:"privateAccess"`
	PublicAccess           bool               `json:"publicAccess"`
	NodeGroups             []eksNodeGroupSpec `json:"nodeGroups"`
}

type eksNodeGroupSpec struct {
	NodegroupName string `json:"nodegroupName"`
	InstanceType  string `json:"instanceType"`
	DesiredSize   int64  `json:"desiredSize"`
	MinSize       int64  `json:"minSize"`
	MaxSize       int64  `json:"maxSize"`
	DiskSize      int64  `json:"diskSize"`
}

// regionsAPI is used to prove AWS credentials work
type regionsAPI interface {
	DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// EKS provisions EKS clusters through the management platform
type EKS struct {
	managed
	cfg     config.EKSConfig
	regions regionsAPI
}

// NewEKS creates the EKS adapter
func NewEKS(api ManagementAPI, cfg config.EKSConfig) *EKS {
	return &EKS{
		managed: managed{provider: cluster.ProviderEKS, api: api},
		cfg:     cfg,
	}
}

// ValidateCredentials calls EC2 DescribeRegions with the configured keys
func (e *EKS) ValidateCredentials(ctx context.Context) error {
	if e.regions == nil {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(e.cfg.Region)}
		if e.cfg.AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(e.cfg.AccessKeyID, e.cfg.SecretAccessKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		e.regions = ec2.NewFromConfig(awsCfg)
	}

	out, err := e.regions.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		RegionNames: []string{e.cfg.Region},
	})
	if err != nil {
		return fmt.Errorf("failed to validate AWS credentials: %w", err)
	}
	if len(out.Regions) == 0 {
		return fmt.Errorf("region %s is not available to these credentials", e.cfg.Region)
	}
	return nil
}

// Create implements Adapter
func (e *EKS) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := ValidateVersion(cluster.ProviderEKS, req.KubernetesVersion); err != nil {
		return cluster.Handle{}, err
	}
	return e.submit(ctx, req, e.spec(req))
}

func (e *EKS) spec(req cluster.Request) eksClusterSpec {
	return eksClusterSpec{
		Type: "cluster",
		Name: req.Name,
		EKSConfig: eksConfigSpec{
			AmazonCredentialSecret: e.cfg.CloudCredential,
			DisplayName:            req.Name,
			KubernetesVersion:      req.KubernetesVersion,
			Region:                 e.cfg.Region,
			PublicAccess:           true,
			NodeGroups: []eksNodeGroupSpec{{
				NodegroupName: req.Name + "-ng",
				InstanceType:  e.cfg.InstanceType,
				DesiredSize:   e.cfg.NodeCount,
				MinSize:       e.cfg.NodeCount,
				MaxSize:       e.cfg.NodeCount,
				DiskSize:      20,
			}},
		},
	}
}
