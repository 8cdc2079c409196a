// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ec2 provisions AWS EC2 instances. It is referenced only by
// its registration in internal/provider/all.
package ec2

import (
	"context"
	"encoding/base64"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/spawn-sh/spawn/internal/cloudconfig"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.provider.ec2")

const (
	accessKeyVar = "AWS_ACCESS_KEY_ID"
	secretKeyVar = "AWS_SECRET_ACCESS_KEY"

	defaultRegion = "us-east-1"
	defaultType   = "t3.medium"
	serverUser    = "ubuntu"
	keyPairName   = "spawn"
	groupName     = "spawn"

	// Canonical's AWS account, owner of the official Ubuntu AMIs.
	canonicalOwner = "099720109477"
	amiNameFilter  = "ubuntu/images/hvm-ssd*/ubuntu-noble-24.04-amd64-server-*"

	managedTagKey   = "managed-by"
	managedTagValue = "spawn"

	readyCeiling = 10 * time.Minute
	addressPoll  = 5 * time.Second
	addressWait  = 3 * time.Minute
)

func init() {
	driver.Register("aws", newDriver)
}

type ec2Driver struct {
	driver.SSHRemote
	cfg    driver.Config
	client *awsec2.Client
	region string
}

func newDriver(cfg driver.Config) (driver.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &ec2Driver{
		SSHRemote: driver.SSHRemote{Clock: cfg.Clock},
		cfg:       cfg,
	}, nil
}

func (d *ec2Driver) Cloud() manifest.CloudDef {
	return d.cfg.CloudDef
}

// Authenticate builds an API client from explicit keys in the
// environment or the saved bundle, falling back to the default AWS
// credential chain (shared config, SSO session, instance role). The
// client only counts once a read-only probe call has succeeded.
func (d *ec2Driver) Authenticate(ctx context.Context) error {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	access, accessSrc := d.cfg.Creds.Lookup("aws", accessKeyVar)
	secret, _ := d.cfg.Creds.Lookup("aws", secretKeyVar)

	var (
		cfg aws.Config
		err error
		src string
	)
	if access != "" && secret != "" {
		src = accessSrc
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(access, secret, ""),
			),
		)
	} else {
		src = "default chain"
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return errors.Annotate(err, "loading aws config")
	}
	client := awsec2.NewFromConfig(cfg)
	if _, err := client.DescribeRegions(ctx, &awsec2.DescribeRegionsInput{}); err != nil {
		return errors.Annotatef(err, "validating aws credentials from %s", src)
	}
	logger.Debugf("aws credentials from %s validated", src)
	d.client = client
	d.region = region
	return nil
}

func family(instanceType string) string {
	if i := strings.IndexByte(instanceType, '.'); i > 0 {
		return instanceType[:i]
	}
	return instanceType
}

// catalog lists current-generation instance types. EC2 pricing needs
// a separate service, so sort weight stands in for hourly price: an
// instance with fewer cores and less memory is assumed cheaper.
func (d *ec2Driver) catalog(ctx context.Context) ([]driver.Offering, error) {
	input := &awsec2.DescribeInstanceTypesInput{
		Filters: []types.Filter{{
			Name:   aws.String("current-generation"),
			Values: []string{"true"},
		}},
	}
	var offerings []driver.Offering
	paginator := awsec2.NewDescribeInstanceTypesPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "listing instance types")
		}
		for _, t := range page.InstanceTypes {
			cores := int(aws.ToInt32(t.VCpuInfo.DefaultVCpus))
			memGB := float64(aws.ToInt64(t.MemoryInfo.SizeInMiB)) / 1024
			offerings = append(offerings, driver.Offering{
				Name:        string(t.InstanceType),
				Family:      family(string(t.InstanceType)),
				Cores:       cores,
				MemoryGB:    memGB,
				HourlyPrice: float64(cores) + memGB/8,
				Available:   true,
			})
		}
	}
	return offerings, nil
}

func (d *ec2Driver) PromptSize(ctx context.Context, spec *driver.LaunchSpec) error {
	if spec.Region == "" {
		spec.Region = d.region
	}
	if spec.Size == "" {
		spec.Size = defaultType
	}
	if spec.Custom {
		// The type catalog runs to hundreds of entries; free-form
		// entry beats a numbered menu here.
		answer, err := d.cfg.Interactor.ReadLine("Instance type [" + spec.Size + "]: ")
		if err == nil && strings.TrimSpace(answer) != "" {
			spec.Size = strings.TrimSpace(answer)
		}
	}
	offerings, err := d.catalog(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, o := range offerings {
		if o.Name == spec.Size {
			return nil
		}
	}
	// The requested type does not exist in this region; substitute
	// from whatever family prefix the request named.
	sub, err := driver.Substitute(driver.Requirements{
		Family:   family(spec.Size),
		Cores:    2,
		MemoryGB: 4,
	}, offerings)
	if err != nil {
		return errors.Annotatef(err, "instance type %s unavailable", spec.Size)
	}
	logger.Infof("instance type %s unavailable, substituting %s", spec.Size, sub.Name)
	spec.Size = sub.Name
	return nil
}

// latestAMI resolves the newest official Ubuntu 24.04 image.
func (d *ec2Driver) latestAMI(ctx context.Context) (string, error) {
	out, err := d.client.DescribeImages(ctx, &awsec2.DescribeImagesInput{
		Owners: []string{canonicalOwner},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{amiNameFilter}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up ubuntu image")
	}
	if len(out.Images) == 0 {
		return "", errors.NotFoundf("ubuntu 24.04 image in %s", d.region)
	}
	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func (d *ec2Driver) ensureKeyPair(ctx context.Context) error {
	public, err := driver.LocalPublicKey()
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.client.ImportKeyPair(ctx, &awsec2.ImportKeyPairInput{
		KeyName:           aws.String(keyPairName),
		PublicKeyMaterial: []byte(public),
	})
	if err != nil && errorCode(err) != "InvalidKeyPair.Duplicate" {
		return errors.Annotate(err, "importing key pair")
	}
	return nil
}

// ensureSecurityGroup returns a group allowing inbound ssh, creating
// it in the default VPC when absent.
func (d *ec2Driver) ensureSecurityGroup(ctx context.Context) (string, error) {
	out, err := d.client.DescribeSecurityGroups(ctx, &awsec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{{
			Name:   aws.String("group-name"),
			Values: []string{groupName},
		}},
	})
	if err != nil {
		return "", errors.Annotate(err, "looking up security group")
	}
	if len(out.SecurityGroups) > 0 {
		return aws.ToString(out.SecurityGroups[0].GroupId), nil
	}
	created, err := d.client.CreateSecurityGroup(ctx, &awsec2.CreateSecurityGroupInput{
		GroupName:   aws.String(groupName),
		Description: aws.String("spawn: inbound ssh"),
	})
	if err != nil {
		return "", errors.Annotate(err, "creating security group")
	}
	groupID := aws.ToString(created.GroupId)
	_, err = d.client.AuthorizeSecurityGroupIngress(ctx, &awsec2.AuthorizeSecurityGroupIngressInput{
		GroupId:    aws.String(groupID),
		IpProtocol: aws.String("tcp"),
		FromPort:   aws.Int32(22),
		ToPort:     aws.Int32(22),
		CidrIp:     aws.String("0.0.0.0/0"),
	})
	if err != nil && errorCode(err) != "InvalidPermission.Duplicate" {
		return "", errors.Annotate(err, "opening ssh ingress")
	}
	return groupID, nil
}

func (d *ec2Driver) CreateServer(ctx context.Context, spec *driver.LaunchSpec) (*driver.Server, error) {
	if err := d.ensureKeyPair(ctx); err != nil {
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "key pair", Err: err}
	}
	groupID, err := d.ensureSecurityGroup(ctx)
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "security group", Err: err}
	}
	ami, err := d.latestAMI(ctx)
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "image", Err: err}
	}
	out, err := d.client.RunInstances(ctx, &awsec2.RunInstancesInput{
		ImageId:          aws.String(ami),
		InstanceType:     types.InstanceType(spec.Size),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(keyPairName),
		SecurityGroupIds: []string{groupID},
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: aws.String("Name"), Value: aws.String(spec.Name)},
				{Key: aws.String(managedTagKey), Value: aws.String(managedTagValue)},
			},
		}},
	})
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "run instances", Err: err}
	}
	if len(out.Instances) == 0 {
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "run instances", Err: errors.New("no instance in response")}
	}
	instanceID := aws.ToString(out.Instances[0].InstanceId)
	ip, err := d.waitForAddress(ctx, instanceID)
	if err != nil {
		if derr := d.Destroy(ctx, instanceID); derr != nil {
			logger.Warningf("cleaning up instance %s: %v", instanceID, derr)
		}
		return nil, &driver.ProvisionError{Cloud: "aws", Reason: "waiting for address", Err: err}
	}
	return &driver.Server{
		ID:    instanceID,
		Name:  spec.Name,
		IP:    ip,
		User:  serverUser,
		Cloud: "aws",
		Metadata: map[string]string{
			"region":        d.region,
			"instance_type": spec.Size,
		},
	}, nil
}

func (d *ec2Driver) waitForAddress(ctx context.Context, id string) (string, error) {
	deadline := d.Clock.Now().Add(addressWait)
	for {
		out, err := d.client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
			InstanceIds: []string{id},
		})
		if err == nil {
			for _, r := range out.Reservations {
				for _, inst := range r.Instances {
					if inst.PublicIpAddress != nil {
						return aws.ToString(inst.PublicIpAddress), nil
					}
				}
			}
		}
		if d.Clock.Now().After(deadline) {
			return "", errors.Annotatef(driver.ErrReadyTimeout, "instance %s has no public address after %v", id, addressWait)
		}
		select {
		case <-ctx.Done():
			return "", errors.Trace(ctx.Err())
		case <-d.Clock.After(addressPoll):
		}
	}
}

func (d *ec2Driver) WaitReady(ctx context.Context, srv *driver.Server) error {
	return errors.Trace(d.WaitSSH(ctx, srv, cloudconfig.ReadyProbe, readyCeiling))
}

func (d *ec2Driver) Destroy(ctx context.Context, id string) error {
	_, err := d.client.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	switch errorCode(err) {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return nil
	}
	return errors.Annotatef(err, "terminating instance %s", id)
}

func (d *ec2Driver) List(ctx context.Context) ([]driver.Server, error) {
	out, err := d.client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + managedTagKey), Values: []string{managedTagValue}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return nil, errors.Annotate(err, "listing instances")
	}
	var servers []driver.Server
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			name := ""
			for _, tag := range inst.Tags {
				if aws.ToString(tag.Key) == "Name" {
					name = aws.ToString(tag.Value)
				}
			}
			servers = append(servers, driver.Server{
				ID:    aws.ToString(inst.InstanceId),
				Name:  name,
				IP:    aws.ToString(inst.PublicIpAddress),
				User:  serverUser,
				Cloud: "aws",
			})
		}
	}
	return servers, nil
}
