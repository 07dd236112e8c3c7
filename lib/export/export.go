// Package export sends measurement results to InfluxDB.
package export

import (
	"context"
	"crypto/tls"
	"log"
	"time"

	"github.com/faradaylab/faraday/lib/measure"
	influx "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/pkg/errors"
)

var (
	ErrBlankOrgOrBucket = errors.New("influx organization or bucket cannot be blank")
	ErrBlankURLOrToken  = errors.New("influx URL or API token cannot be blank")
	ErrInvalidOrg       = errors.New("invalid influx organization")
)

// Config locates the InfluxDB server and bucket.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	SkipTLS bool   `yaml:"skip_tls"`
}

// Validate checks that every field needed to connect is set.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" || c.Token == "" {
		return ErrBlankURLOrToken
	}
	if c.Org == "" || c.Bucket == "" {
		return ErrBlankOrgOrBucket
	}
	return nil
}

type orgFinder interface {
	FindOrganizationByName(ctx context.Context, orgName string) (*domain.Organization, error)
}

type bucketMaker interface {
	FindBucketsByOrgName(ctx context.Context, orgName string, pagingOptions ...api.PagingOption) (*[]domain.Bucket, error)
	CreateBucketWithName(ctx context.Context, org *domain.Organization, bucketName string, rules ...domain.RetentionRule) (*domain.Bucket, error)
}

// ensureBucket creates the bucket in org unless it exists.
func ensureBucket(ctx context.Context, orgs orgFinder, buckets bucketMaker, orgName, bucket string) error {
	org, err := orgs.FindOrganizationByName(ctx, orgName)
	if err != nil {
		return errors.Wrap(ErrInvalidOrg, err.Error())
	}
	list, err := buckets.FindBucketsByOrgName(ctx, orgName)
	if err != nil {
		return errors.Wrap(ErrInvalidOrg, err.Error())
	}
	if list != nil {
		for _, b := range *list {
			if b.Name == bucket {
				return nil
			}
		}
	}
	log.Printf("Creating %s bucket...", bucket)
	_, err = buckets.CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{EverySeconds: 0})
	return errors.Wrapf(err, "creating bucket %s", bucket)
}

// Sink writes points asynchronously to one bucket.
type Sink struct {
	client influx.Client
	write  api.WriteAPI
}

// Open connects, creates the bucket if needed and starts the writer.
func Open(ctx context.Context, c Config) (*Sink, error) {
	c.Enabled = true
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client := influx.NewClientWithOptions(c.URL, c.Token,
		influx.DefaultOptions().SetTLSConfig(&tls.Config{InsecureSkipVerify: c.SkipTLS}))
	if err := ensureBucket(ctx, client.OrganizationsAPI(), client.BucketsAPI(), c.Org, c.Bucket); err != nil {
		client.Close()
		return nil, err
	}
	s := &Sink{client: client, write: client.WriteAPI(c.Org, c.Bucket)}
	go func() {
		for err := range s.write.Errors() {
			log.Printf("influx write: %v", err)
		}
	}()
	return s, nil
}

// Write queues points.
func (s *Sink) Write(points ...*write.Point) {
	for _, p := range points {
		s.write.WritePoint(p)
	}
}

// Run queues every reading of a run.
func (s *Sink) Run(d *measure.Data) {
	s.Write(BristolPoints(d)...)
	s.Write(LockInPoints(d)...)
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() {
	s.write.Flush()
	s.client.Close()
}

// BristolPoints pairs buffer records with run timestamps.
func BristolPoints(d *measure.Data) []*write.Point {
	n := min(len(d.Timestamps), len(d.Bristol))
	points := make([]*write.Point, 0, n)
	for i := 0; i < n; i++ {
		r := d.Bristol[i]
		points = append(points, influx.NewPoint("bristol",
			map[string]string{"scan": "faraday"},
			map[string]interface{}{
				"wavelength": r.Wavelength,
				"power":      float64(r.Power),
				"status":     int64(r.Status),
			},
			d.Timestamps[i]))
	}
	return points
}

// LockInPoints steps each lock-in's points by its storage interval from
// the run start.
func LockInPoints(d *measure.Data) []*write.Point {
	var points []*write.Point
	for _, l := range d.LockIns {
		n := min(len(l.Curves.X), len(l.Curves.Y))
		for i := 0; i < n; i++ {
			points = append(points, influx.NewPoint("lockin",
				map[string]string{"channel": l.Settings.Name},
				map[string]interface{}{"x": l.Curves.X[i], "y": l.Curves.Y[i]},
				d.Start.Add(time.Duration(i)*l.Settings.Interval)))
		}
	}
	return points
}

// GaussPoints converts gaussmeter readings.
func GaussPoints(d measure.GaussData) []*write.Point {
	n := min(len(d.Timestamps), len(d.Fields), len(d.Temps))
	points := make([]*write.Point, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, influx.NewPoint("gaussmeter", nil,
			map[string]interface{}{"field": d.Fields[i], "temperature": d.Temps[i]},
			d.Timestamps[i]))
	}
	return points
}
