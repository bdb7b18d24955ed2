// Package safety validates scenario inputs against the air-gap invariants.
//
// Every "this input would violate the air-gap" check lives here so the rest
// of the orchestrator may trust its inputs. The validator is pure: it holds
// no state beyond the struct validator instance and never touches the
// backend.
//
// It uses:
//   - go-playground/validator for struct-level field validation
//   - stdlib net for CIDR membership checks
package safety

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"

	"github.com/cewlabs/cew/models"
)

// Validator checks constraints and topologies before any resource is touched.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a Validator ready for use.
func New() *Validator {
	return &Validator{
		structValidator: validator.New(),
	}
}

// ValidateConstraints rejects constraints that would breach the air-gap.
// Exactly two conditions matter: allow_external_network and allow_real_rf
// must both be false. No other policy lives here.
func (v *Validator) ValidateConstraints(c models.Constraints) error {
	if c.AllowExternalNetwork {
		return fmt.Errorf("%w: allow_external_network must be false", models.ErrConstraintViolation)
	}
	if c.AllowRealRF {
		return fmt.Errorf("%w: allow_real_rf must be false", models.ErrConstraintViolation)
	}
	return nil
}

// ValidateTopology rejects topologies that are malformed or that declare a
// non-isolated network.
func (v *Validator) ValidateTopology(t models.Topology) error {
	if err := v.structValidator.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTopologyMalformed, err)
	}

	subnets := make(map[string]*net.IPNet, len(t.Networks))
	for _, nw := range t.Networks {
		if !nw.Isolated {
			return fmt.Errorf("%w: network %q is not isolated", models.ErrConstraintViolation, nw.Name)
		}
		if _, declared := subnets[nw.Name]; declared {
			return fmt.Errorf("%w: network %q declared twice", models.ErrTopologyMalformed, nw.Name)
		}
		_, ipnet, err := net.ParseCIDR(nw.Subnet)
		if err != nil {
			return fmt.Errorf("%w: network %q has invalid subnet %q", models.ErrTopologyMalformed, nw.Name, nw.Subnet)
		}
		subnets[nw.Name] = ipnet
	}

	hostnames := make(map[string]string, len(t.Nodes))
	for _, node := range t.Nodes {
		if prev, taken := hostnames[node.Hostname]; taken {
			return fmt.Errorf("%w: hostname %q used by nodes %q and %q",
				models.ErrTopologyMalformed, node.Hostname, prev, node.ID)
		}
		hostnames[node.Hostname] = node.ID

		for _, ref := range node.Networks {
			if _, declared := subnets[ref]; !declared {
				return fmt.Errorf("%w: node %q references undeclared network %q",
					models.ErrTopologyMalformed, node.ID, ref)
			}
		}

		if node.IP != "" {
			if err := v.checkIPInNetworks(node, subnets); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkIPInNetworks verifies the node's static ip falls inside the subnet of
// at least one network the node attaches to.
func (v *Validator) checkIPInNetworks(node models.NodeDefinition, subnets map[string]*net.IPNet) error {
	ip := net.ParseIP(node.IP)
	if ip == nil {
		return fmt.Errorf("%w: node %q has invalid ip %q", models.ErrTopologyMalformed, node.ID, node.IP)
	}

	for _, ref := range node.Networks {
		if ipnet, declared := subnets[ref]; declared && ipnet.Contains(ip) {
			return nil
		}
	}

	return fmt.Errorf("%w: node %q ip %s is outside its networks' subnets",
		models.ErrTopologyMalformed, node.ID, node.IP)
}
