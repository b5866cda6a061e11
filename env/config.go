package env

// Config defines parameters to create environment builder
type Config struct {
	// NetShare keeps the host network namespace (network access allowed)
	NetShare bool
	// SeccompConf specifies the seccomp policy file (seccomp build tag only)
	SeccompConf string
	// MountConf specifies the mount config of the sandbox root, default
	// mounts are used if it does not exist
	MountConf string
	// ContainerCred is the host uid / gid of sandboxed programs when running
	// as root, 0 keeps root
	ContainerCred int
	// NoFallback fails the builder instead of falling back to rlimit only
	// mode when namespaces could not be created
	NoFallback bool
}
