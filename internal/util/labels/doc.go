// Package labels provides consistent labeling for spoke resources.
//
// All labels use the hubspoke.io domain prefix. Labels identify the spoke a
// resource belongs to, its role inside the spoke, and the gateway backend
// pool the instance is registered in.
package labels
