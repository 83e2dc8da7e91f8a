// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aws

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"

	"github.com/cloudacademy/dbrefresh/core/accessrule"
	"github.com/cloudacademy/dbrefresh/core/clone"
	"github.com/cloudacademy/dbrefresh/internal/refresher"
)

// EC2API is the subset of the EC2 client the network provider uses.
type EC2API interface {
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, opts ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, in *ec2.RevokeSecurityGroupIngressInput, opts ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
}

// Network implements refresher.NetworkProvider with EC2 security
// groups in a single VPC.
type Network struct {
	client EC2API
	vpcID  string
}

// NewNetwork returns a network provider operating in the given VPC.
func NewNetwork(client EC2API, vpcID string) *Network {
	return &Network{client: client, vpcID: vpcID}
}

// EnsureGroup implements refresher.NetworkProvider.
func (n *Network) EnsureGroup(ctx context.Context, name string, tags map[string]string) (string, error) {
	in := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("database clone ingress, managed by dbrefresh"),
		VpcId:       aws.String(n.vpcID),
	}
	if len(tags) > 0 {
		// The API rejects an empty tag specification outright.
		in.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSecurityGroup,
			Tags:         ec2Tags(tags),
		}}
	}
	out, err := n.client.CreateSecurityGroup(ctx, in)
	if hasErrorCode(err, "InvalidGroup.Duplicate") {
		return n.LookupGroup(ctx, name)
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	return aws.ToString(out.GroupId), nil
}

// LookupGroup implements refresher.NetworkProvider.
func (n *Network) LookupGroup(ctx context.Context, name string) (string, error) {
	out, err := n.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
			{Name: aws.String("vpc-id"), Values: []string{n.vpcID}},
		},
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", errors.NotFoundf("security group %q", name)
	}
	return aws.ToString(out.SecurityGroups[0].GroupId), nil
}

// ListGroups implements refresher.NetworkProvider, returning only
// groups carrying the manager tag.
func (n *Network) ListGroups(ctx context.Context) ([]refresher.GroupInfo, error) {
	filters := []ec2types.Filter{
		{Name: aws.String("tag:" + clone.TagManagedBy), Values: []string{clone.ManagedByValue}},
		{Name: aws.String("vpc-id"), Values: []string{n.vpcID}},
	}
	var out []refresher.GroupInfo
	var token *string
	for {
		page, err := n.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters:   filters,
			NextToken: token,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, group := range page.SecurityGroups {
			out = append(out, refresher.GroupInfo{
				Ref:  aws.ToString(group.GroupId),
				Name: aws.ToString(group.GroupName),
			})
		}
		if page.NextToken == nil {
			return out, nil
		}
		token = page.NextToken
	}
}

// CurrentRules implements refresher.NetworkProvider. Only TCP
// permissions with plain CIDR ranges are considered; the provider
// never creates anything else.
func (n *Network) CurrentRules(ctx context.Context, ref string) (accessrule.Rules, error) {
	out, err := n.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{ref},
	})
	if hasErrorCode(err, "InvalidGroup.NotFound", "InvalidGroupId.NotFound") {
		return nil, errors.NotFoundf("security group %q", ref)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, errors.NotFoundf("security group %q", ref)
	}
	var rules accessrule.Rules
	for _, perm := range out.SecurityGroups[0].IpPermissions {
		if aws.ToString(perm.IpProtocol) != "tcp" {
			continue
		}
		var cidrs []string
		for _, r := range perm.IpRanges {
			cidrs = append(cidrs, aws.ToString(r.CidrIp))
		}
		if len(cidrs) == 0 {
			continue
		}
		rules = append(rules, accessrule.NewRule(int(aws.ToInt32(perm.FromPort)), cidrs...))
	}
	rules.Sort()
	return rules, nil
}

// OpenRules implements refresher.NetworkProvider. A rule that is
// already open is not an error.
func (n *Network) OpenRules(ctx context.Context, ref string, rules accessrule.Rules) error {
	_, err := n.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(ref),
		IpPermissions: ipPermissions(rules),
	})
	if hasErrorCode(err, "InvalidPermission.Duplicate") {
		return nil
	}
	return errors.Trace(err)
}

// CloseRules implements refresher.NetworkProvider. A rule that is
// already closed is not an error.
func (n *Network) CloseRules(ctx context.Context, ref string, rules accessrule.Rules) error {
	_, err := n.client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       aws.String(ref),
		IpPermissions: ipPermissions(rules),
	})
	if hasErrorCode(err, "InvalidPermission.NotFound") {
		return nil
	}
	return errors.Trace(err)
}

// DeleteGroup implements refresher.NetworkProvider.
func (n *Network) DeleteGroup(ctx context.Context, ref string) error {
	_, err := n.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(ref),
	})
	if hasErrorCode(err, "InvalidGroup.NotFound", "InvalidGroupId.NotFound") {
		logger.Debugf("security group %q already gone", ref)
		return nil
	}
	return errors.Trace(err)
}

func ipPermissions(rules accessrule.Rules) []ec2types.IpPermission {
	out := make([]ec2types.IpPermission, 0, len(rules))
	for _, rule := range rules {
		perm := ec2types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(rule.Port)),
			ToPort:     aws.Int32(int32(rule.Port)),
		}
		for _, cidr := range rule.SourceCIDRs.SortedValues() {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: aws.String(cidr)})
		}
		out = append(out, perm)
	}
	return out
}

func ec2Tags(tags map[string]string) []ec2types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
