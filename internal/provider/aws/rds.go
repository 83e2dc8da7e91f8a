// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package aws implements the provider contracts on Amazon's managed
// services: Aurora clusters via RDS, security groups via EC2 and
// scoped credentials via Secrets Manager.
package aws

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/cloudacademy/dbrefresh/internal/refresher"
)

var logger = loggo.GetLogger("dbrefresh.provider.aws")

// RDSAPI is the subset of the RDS client the cluster provider uses.
type RDSAPI interface {
	DescribeDBClusters(ctx context.Context, in *rds.DescribeDBClustersInput, opts ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	RestoreDBClusterToPointInTime(ctx context.Context, in *rds.RestoreDBClusterToPointInTimeInput, opts ...func(*rds.Options)) (*rds.RestoreDBClusterToPointInTimeOutput, error)
	CreateDBInstance(ctx context.Context, in *rds.CreateDBInstanceInput, opts ...func(*rds.Options)) (*rds.CreateDBInstanceOutput, error)
	ModifyDBCluster(ctx context.Context, in *rds.ModifyDBClusterInput, opts ...func(*rds.Options)) (*rds.ModifyDBClusterOutput, error)
	AddTagsToResource(ctx context.Context, in *rds.AddTagsToResourceInput, opts ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error)
	DeleteDBInstance(ctx context.Context, in *rds.DeleteDBInstanceInput, opts ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error)
	DeleteDBCluster(ctx context.Context, in *rds.DeleteDBClusterInput, opts ...func(*rds.Options)) (*rds.DeleteDBClusterOutput, error)
}

// Clusters implements refresher.ClusterProvider on Aurora.
type Clusters struct {
	client RDSAPI
}

// NewClusters returns a cluster provider backed by the given client.
func NewClusters(client RDSAPI) *Clusters {
	return &Clusters{client: client}
}

// Describe implements refresher.ClusterProvider.
func (c *Clusters) Describe(ctx context.Context, clusterID string) (*refresher.ClusterInfo, error) {
	cluster, err := c.describe(ctx, clusterID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	info := clusterInfo(*cluster)
	return &info, nil
}

func (c *Clusters) describe(ctx context.Context, clusterID string) (*rdstypes.DBCluster, error) {
	out, err := c.client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(clusterID),
	})
	if hasErrorCode(err, "DBClusterNotFoundFault") {
		return nil, errors.NotFoundf("cluster %q", clusterID)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(out.DBClusters) == 0 {
		return nil, errors.NotFoundf("cluster %q", clusterID)
	}
	return &out.DBClusters[0], nil
}

// List implements refresher.ClusterProvider. The platform cannot
// filter on identifier prefixes, so every cluster is fetched and
// filtered here.
func (c *Clusters) List(ctx context.Context, prefix string) ([]refresher.ClusterInfo, error) {
	var out []refresher.ClusterInfo
	var marker *string
	for {
		page, err := c.client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
			Marker: marker,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, cluster := range page.DBClusters {
			if !strings.HasPrefix(aws.ToString(cluster.DBClusterIdentifier), prefix) {
				continue
			}
			out = append(out, clusterInfo(cluster))
		}
		if page.Marker == nil {
			return out, nil
		}
		marker = page.Marker
	}
}

// Clone implements refresher.ClusterProvider. The clone is a
// copy-on-write restore to the source's latest restorable time, plus
// one reader instance so the cluster has an endpoint to serve from.
func (c *Clusters) Clone(ctx context.Context, spec refresher.CloneSpec) error {
	source, err := c.describe(ctx, spec.SourceClusterID)
	if err != nil {
		return errors.Annotatef(err, "describing source cluster")
	}

	restore := &rds.RestoreDBClusterToPointInTimeInput{
		DBClusterIdentifier:       aws.String(spec.ClusterID),
		SourceDBClusterIdentifier: aws.String(spec.SourceClusterID),
		RestoreType:               aws.String("copy-on-write"),
		UseLatestRestorableTime:   aws.Bool(true),
		Tags:                      rdsTags(spec.Tags),
	}
	if spec.SubnetGroup != "" {
		restore.DBSubnetGroupName = aws.String(spec.SubnetGroup)
	}
	if _, err := c.client.RestoreDBClusterToPointInTime(ctx, restore); err != nil {
		return errors.Trace(err)
	}

	_, err = c.client.CreateDBInstance(ctx, &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: aws.String(spec.ClusterID + "-0"),
		DBClusterIdentifier:  aws.String(spec.ClusterID),
		DBInstanceClass:      aws.String(spec.InstanceClass),
		Engine:               source.Engine,
		Tags:                 rdsTags(spec.Tags),
	})
	return errors.Trace(err)
}

// Tag implements refresher.ClusterProvider.
func (c *Clusters) Tag(ctx context.Context, clusterID string, tags map[string]string) error {
	cluster, err := c.describe(ctx, clusterID)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = c.client.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
		ResourceName: cluster.DBClusterArn,
		Tags:         rdsTags(tags),
	})
	return errors.Trace(err)
}

// SetSecurityGroups implements refresher.ClusterProvider.
func (c *Clusters) SetSecurityGroups(ctx context.Context, clusterID string, groups []string) error {
	_, err := c.client.ModifyDBCluster(ctx, &rds.ModifyDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
		VpcSecurityGroupIds: groups,
		ApplyImmediately:    aws.Bool(true),
	})
	if hasErrorCode(err, "DBClusterNotFoundFault") {
		return errors.NotFoundf("cluster %q", clusterID)
	}
	return errors.Trace(err)
}

// ResetMasterPassword implements refresher.ClusterProvider.
func (c *Clusters) ResetMasterPassword(ctx context.Context, clusterID, password string) error {
	_, err := c.client.ModifyDBCluster(ctx, &rds.ModifyDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
		MasterUserPassword:  aws.String(password),
		ApplyImmediately:    aws.Bool(true),
	})
	if hasErrorCode(err, "DBClusterNotFoundFault") {
		return errors.NotFoundf("cluster %q", clusterID)
	}
	return errors.Trace(err)
}

// Delete implements refresher.ClusterProvider. Instances go first; the
// cluster cannot be removed while members remain.
func (c *Clusters) Delete(ctx context.Context, clusterID string) error {
	instances, err := c.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		Filters: []rdstypes.Filter{{
			Name:   aws.String("db-cluster-id"),
			Values: []string{clusterID},
		}},
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, instance := range instances.DBInstances {
		_, err := c.client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
			DBInstanceIdentifier: instance.DBInstanceIdentifier,
			SkipFinalSnapshot:    aws.Bool(true),
		})
		if err != nil && !hasErrorCode(err, "DBInstanceNotFoundFault", "InvalidDBInstanceState") {
			return errors.Trace(err)
		}
	}
	_, err = c.client.DeleteDBCluster(ctx, &rds.DeleteDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID),
		SkipFinalSnapshot:   aws.Bool(true),
	})
	if hasErrorCode(err, "DBClusterNotFoundFault") {
		logger.Debugf("cluster %q already gone", clusterID)
		return nil
	}
	return errors.Trace(err)
}

func clusterInfo(cluster rdstypes.DBCluster) refresher.ClusterInfo {
	info := refresher.ClusterInfo{
		ID:             aws.ToString(cluster.DBClusterIdentifier),
		Status:         aws.ToString(cluster.Status),
		Endpoint:       aws.ToString(cluster.Endpoint),
		Port:           int(aws.ToInt32(cluster.Port)),
		MasterUsername: aws.ToString(cluster.MasterUsername),
		Tags:           make(map[string]string, len(cluster.TagList)),
	}
	if cluster.ClusterCreateTime != nil {
		info.CreatedAt = *cluster.ClusterCreateTime
	}
	for _, tag := range cluster.TagList {
		info.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	for _, member := range cluster.VpcSecurityGroups {
		info.SecurityGroups = append(info.SecurityGroups, aws.ToString(member.VpcSecurityGroupId))
	}
	return info
}

func rdsTags(tags map[string]string) []rdstypes.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]rdstypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, rdstypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
