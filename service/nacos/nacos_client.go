package nacos

import (
	"PPLive/global/config"
	"PPLive/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// NewConfigClient connects to the Nacos server described by c.
func NewConfigClient(c config.NacosConfig) (config_client.IConfigClient, error) {
	cli, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  clientConfig(c),
		ServerConfigs: serverConfigs(c),
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "host", c.Host)
	}
	return cli, nil
}

func serverConfigs(c config.NacosConfig) []constant.ServerConfig {
	return []constant.ServerConfig{
		*constant.NewServerConfig(c.Host, c.Port),
	}
}

func clientConfig(c config.NacosConfig) *constant.ClientConfig {
	return constant.NewClientConfig(
		constant.WithNamespaceId(c.Namespace),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
		constant.WithCacheDir("nacos/cache"),
		constant.WithLogDir("nacos/log"),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
}
