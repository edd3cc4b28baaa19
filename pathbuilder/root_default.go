//go:build !qnx

package pathbuilder

const discoveryRoot = "/tmp/mw_com_lola/service_discovery"
