// Package subscription loads the XML subscription file a Subscriber is
// pointed at: the tracker(s) to rendezvous through and the predicate
// declaring which ArchivePaths the node wants.
package subscription

import (
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/marmos91/sruth/pkg/filter"
)

// Subscription is the parsed form of a subscription.xml file:
//
//	<subscription>
//	  <tracker host="tracker.example.org" port="38800"/>
//	  <predicate>
//	    <everything/>
//	    <prefix>images/</prefix>
//	    <pattern>.*\.nc$</pattern>
//	  </predicate>
//	</subscription>
//
// At least one tracker and a non-empty predicate are required.
type Subscription struct {
	Trackers []TrackerRef
	Filters  []filter.Filter
}

// TrackerRef is one tracker's TCP endpoint.
type TrackerRef struct {
	Host string
	Port int
}

// Addr returns the tracker's "host:port" form.
func (t TrackerRef) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

type xmlSubscription struct {
	XMLName   xml.Name      `xml:"subscription"`
	Trackers  []xmlTracker  `xml:"tracker"`
	Predicate *xmlPredicate `xml:"predicate"`
}

type xmlTracker struct {
	Host string `xml:"host,attr"`
	Port int    `xml:"port,attr"`
}

type xmlPredicate struct {
	Everything *struct{} `xml:"everything"`
	Prefixes   []string  `xml:"prefix"`
	Patterns   []string  `xml:"pattern"`
}

// Load parses path into a Subscription, validating trackers and
// compiling predicate patterns.
func Load(path string) (*Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subscription: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw subscription XML.
func Parse(data []byte) (*Subscription, error) {
	var raw xmlSubscription
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("subscription: parse: %w", err)
	}

	if len(raw.Trackers) == 0 {
		return nil, fmt.Errorf("subscription: at least one <tracker> is required")
	}

	sub := &Subscription{}
	for _, t := range raw.Trackers {
		if t.Host == "" || t.Port <= 0 || t.Port > 65535 {
			return nil, fmt.Errorf("subscription: invalid tracker host=%q port=%d", t.Host, t.Port)
		}
		sub.Trackers = append(sub.Trackers, TrackerRef{Host: t.Host, Port: t.Port})
	}

	if raw.Predicate == nil {
		return nil, fmt.Errorf("subscription: a <predicate> is required")
	}
	if raw.Predicate.Everything != nil {
		sub.Filters = append(sub.Filters, filter.Everything())
	}
	for _, prefix := range raw.Predicate.Prefixes {
		sub.Filters = append(sub.Filters, filter.NewPrefix(prefix))
	}
	for _, pattern := range raw.Predicate.Patterns {
		f, err := filter.NewRegex(pattern)
		if err != nil {
			return nil, fmt.Errorf("subscription: %w", err)
		}
		sub.Filters = append(sub.Filters, f)
	}
	if len(sub.Filters) == 0 {
		return nil, fmt.Errorf("subscription: predicate declares no filters")
	}

	return sub, nil
}

// Predicate builds the node's Predicate from the subscription's filters.
func (s *Subscription) Predicate() *filter.Predicate {
	return filter.New(s.Filters...)
}

// Write renders sub back to XML, used by `sruth init` when scaffolding a
// subscription file.
func Write(path string, sub *Subscription) error {
	raw := xmlSubscription{}
	for _, t := range sub.Trackers {
		raw.Trackers = append(raw.Trackers, xmlTracker{Host: t.Host, Port: t.Port})
	}
	raw.Predicate = &xmlPredicate{}
	for _, f := range sub.Filters {
		switch f.Kind() {
		case filter.KindEverything:
			raw.Predicate.Everything = &struct{}{}
		case filter.KindPrefix:
			raw.Predicate.Prefixes = append(raw.Predicate.Prefixes, f.Prefix())
		case filter.KindRegex:
			raw.Predicate.Patterns = append(raw.Predicate.Patterns, f.Pattern())
		default:
			return fmt.Errorf("subscription: cannot serialize %s filter", f)
		}
	}

	data, err := xml.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("subscription: marshal: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}
