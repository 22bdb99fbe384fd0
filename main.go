package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/waflow/flowd/agent"
	"github.com/waflow/flowd/config"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "flowd", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().String("wa-base-url", "", "whatsapp cloud api base url")
	cmd.Flags().String("wa-phone-number-id", "", "whatsapp business phone number id")
	cmd.Flags().String("wa-access-token", "", "whatsapp cloud api access token")
	cmd.Flags().String("wa-verify-token", "", "webhook verification token")
	cmd.Flags().Int("dispatcher-workers", 8, "number of conversation workers")
	cmd.Flags().Int("dispatcher-capacity", 512, "queue capacity per conversation worker")
	cmd.Flags().Int("delay-poll-seconds", 1, "delay queue poll interval in seconds")
	cmd.Flags().Int("api-call-timeout-seconds", 15, "timeout for apiCall node requests")
	cmd.Flags().Int("flow-cache-seconds", 30, "flow definition cache ttl in seconds")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.WhatsAppConfig.BaseUrl = viper.GetString("wa-base-url")
	c.cfg.WhatsAppConfig.PhoneNumberId = viper.GetString("wa-phone-number-id")
	c.cfg.WhatsAppConfig.AccessToken = viper.GetString("wa-access-token")
	c.cfg.WhatsAppConfig.VerifyToken = viper.GetString("wa-verify-token")
	c.cfg.DispatcherWorkers = viper.GetInt("dispatcher-workers")
	c.cfg.DispatcherCapacity = viper.GetInt("dispatcher-capacity")
	c.cfg.DelayPollSeconds = viper.GetInt("delay-poll-seconds")
	c.cfg.ApiCallTimeoutSeconds = viper.GetInt("api-call-timeout-seconds")
	c.cfg.FlowCacheSeconds = viper.GetInt("flow-cache-seconds")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowd",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
