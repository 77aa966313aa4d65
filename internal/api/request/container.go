package request

// PublishSpec exposes a container on a host port behind a domain.
type PublishSpec struct {
	Domain        string `json:"domain" validate:"required,fqdn"`
	HostPort      int    `json:"host_port" validate:"required,min=1,max=65535"`
	ContainerPort int    `json:"container_port" validate:"required,min=1,max=65535"`
}

// CreateContainer is the body of POST /containers.
type CreateContainer struct {
	Name    string            `json:"name" validate:"required,slug"`
	Image   string            `json:"image" validate:"required"`
	Role    string            `json:"role" validate:"required,oneof=web worker admin-managed"`
	Env     map[string]string `json:"env,omitempty"`
	Publish *PublishSpec      `json:"publish,omitempty"`
}

// Login is the body of POST /auth/login.
type Login struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}
