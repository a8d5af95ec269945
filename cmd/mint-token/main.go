// Command mint-token 为运维人员签发访问 token 或推荐码，密钥取自服务的配置文件。
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"estate-smart-go/internal/config"
	"estate-smart-go/pkg/token"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	userID := flag.Int64("user", 0, "聊天平台用户 ID")
	role := flag.String("role", token.RoleUser, "USER 或 ADMIN")
	referral := flag.Bool("referral", false, "签发推荐码而不是访问 token")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "mint-token: -user 必须为正整数")
		flag.Usage()
		os.Exit(2)
	}
	r := strings.ToUpper(*role)
	if r != token.RoleUser && r != token.RoleAdmin {
		fmt.Fprintf(os.Stderr, "mint-token: 未知角色 %q\n", *role)
		os.Exit(2)
	}

	_ = godotenv.Load()
	config.Init(*configPath)
	cfg := config.Conf
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "mint-token: jwt.secret 未配置")
		os.Exit(1)
	}
	m := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.ReferralExpireDays)

	var out string
	var err error
	if *referral {
		out, err = m.GenerateReferralCode(*userID)
	} else {
		out, err = m.GenerateToken(*userID, r)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint-token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}
