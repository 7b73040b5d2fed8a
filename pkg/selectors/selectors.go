package selectors

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// GenericSelector is the untyped form of a parsed selector term. Each resource
// provider converts KeyVals into its own typed Selector.
type GenericSelector struct {
	Tags    map[string]string
	KeyVals map[string]string
}

// ParseSelectorsTokens parses a string of selectors into GenericSelector structs.
// Selectors are parsed as a set of terms. Each term is separated by a semicolon.
// Within a term, individual selection criteria is separated by a comma and AND'd
// together. Terms are OR'd together.
//
// Example:
//
// "tag:Name=web,tag:Environment=dev;id:subnet-0123456"
//
// This will parse into two selectors:
//  1. tag:Name=web,tag:Environment=dev (the resource must have both tags)
//  2. id:subnet-0123456 (the resource must have the given ID)
func ParseSelectorsTokens(selectorStr string) ([]GenericSelector, error) {
	selectorStr = strings.TrimSpace(selectorStr)
	var parsedSelectors []GenericSelector
	for _, term := range strings.Split(selectorStr, ";") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		selector := GenericSelector{
			Tags:    map[string]string{},
			KeyVals: map[string]string{},
		}
		for _, criterion := range strings.Split(term, ",") {
			criterion = strings.TrimSpace(criterion)
			if criterion == "" {
				continue
			}
			tokens := strings.SplitN(criterion, ":", 2)
			if len(tokens) != 2 {
				return nil, fmt.Errorf("invalid selector: %s. Expected a \":\" separated key and value", criterion)
			}
			key := strings.ToLower(strings.TrimSpace(tokens[0]))
			value := strings.TrimSpace(tokens[1])
			if key == "tag" {
				tagTokens := strings.Split(value, "=")
				if len(tagTokens) > 2 {
					return nil, fmt.Errorf("invalid tag selector: %s. Expected 0 or 1 \"=\", but found %d", value, len(tagTokens)-1)
				}
				// if only the tag key was given, then we set the value to the empty string and use it as a wildcard
				if len(tagTokens) == 1 {
					selector.Tags[tagTokens[0]] = ""
				}
				if len(tagTokens) == 2 {
					selector.Tags[tagTokens[0]] = tagTokens[1]
				}
				continue
			}
			selector.KeyVals[key] = value
		}
		parsedSelectors = append(parsedSelectors, selector)
	}
	return parsedSelectors, nil
}

// TagsToEC2Filters converts a tag map into EC2 Describe filters. An empty or
// wildcard tag value matches on tag key presence only.
func TagsToEC2Filters(tags map[string]string) []ec2types.Filter {
	var filters []ec2types.Filter
	for k, v := range tags {
		if v == "*" || v == "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("tag-key"),
				Values: []string{k},
			})
		} else {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String(fmt.Sprintf("tag:%s", k)),
				Values: []string{v},
			})
		}
	}
	return filters
}
